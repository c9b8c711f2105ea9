package att

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	gc "github.com/corvidlabs/gattclient"
)

// Handler receives a raw Notification (0x1B) or Indication (0x1D) PDU.
// The pipeline has already sent the Confirmation for an Indication by
// the time Handle is called.
type Handler interface {
	Handle(opcode byte, pdu []byte)
}

// Reply is how a completed request is delivered to its caller:
// status 0 means success, any other value is the ATT error code from
// an Error Response.
type Reply struct {
	Status gc.ATTError
	PDU    []byte
	Err    error // set for a TransportFailure, Status is then 0.
}

type pendingReq struct {
	opcode byte
	pdu    []byte
	reply  chan Reply
}

// Client serialises ATT requests on one transport (at most one
// outstanding at a time), demultiplexes responses to their caller, and
// routes Notifications/Indications to registered handlers,
// auto-confirming every Indication.
type Client struct {
	conn gc.Conn
	log  gc.Logger

	mu      sync.Mutex
	queue   []*pendingReq
	current *pendingReq

	handlersMu sync.RWMutex
	handlers   map[byte][]Handler

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient returns an ATT client over conn. Call Loop in its own
// goroutine to start reading PDUs.
func NewClient(conn gc.Conn, log gc.Logger) *Client {
	return &Client{
		conn:     conn,
		log:      log,
		handlers: make(map[byte][]Handler),
		done:     make(chan struct{}),
	}
}

// RegisterHandler adds h to the set invoked for opcode (0x1B or 0x1D).
// Registering the same handler twice is harmless but delivers twice;
// callers are expected to register once per lifetime.
func (c *Client) RegisterHandler(opcode byte, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[opcode] = append(c.handlers[opcode], h)
}

// Close stops the request loop and fails every pending request with err.
func (c *Client) Close(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		pending := c.queue
		cur := c.current
		c.queue = nil
		c.current = nil
		c.mu.Unlock()
		if cur != nil {
			cur.reply <- Reply{Err: err}
		}
		for _, p := range pending {
			p.reply <- Reply{Err: err}
		}
	})
}

// send enqueues a request and blocks until its Reply arrives or the
// client is closed.
func (c *Client) send(opcode byte, pdu []byte) (Reply, error) {
	req := &pendingReq{opcode: opcode, pdu: pdu, reply: make(chan Reply, 1)}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return Reply{}, gc.ErrRemoteDisconnected
	default:
	}
	if c.current == nil {
		c.current = req
		c.mu.Unlock()
		if err := c.write(pdu); err != nil {
			c.mu.Lock()
			c.current = nil
			c.mu.Unlock()
			return Reply{}, err
		}
	} else {
		c.queue = append(c.queue, req)
		c.mu.Unlock()
	}

	select {
	case r := <-req.reply:
		if r.Err != nil {
			return Reply{}, r.Err
		}
		return r, nil
	case <-c.done:
		return Reply{}, gc.ErrRemoteDisconnected
	}
}

func (c *Client) write(pdu []byte) error {
	_, err := c.conn.Write(pdu)
	if err != nil {
		return errors.Wrap(err, "att: write request")
	}
	return nil
}

// advance completes c.current with r and dequeues+sends the next
// request, if any, keeping requests on the wire in FIFO order.
func (c *Client) advance(r Reply) {
	c.mu.Lock()
	done := c.current
	c.current = nil
	var next *pendingReq
	if len(c.queue) > 0 {
		next = c.queue[0]
		c.queue = c.queue[1:]
		c.current = next
	}
	c.mu.Unlock()

	if done != nil {
		done.reply <- r
	}
	if next != nil {
		if err := c.write(next.pdu); err != nil {
			c.advance(Reply{Err: err})
		}
	}
}

// ExchangeMTU informs the server of the client's maximum receive MTU
// and requests the server's. [Vol 3, Part F, 3.4.2.1]
func (c *Client) ExchangeMTU(clientRxMTU int) (int, error) {
	buf := make([]byte, 3)
	req := ExchangeMTURequest(buf)
	req.SetAttributeOpcode()
	req.SetClientRxMTU(uint16(clientRxMTU))

	r, err := c.send(ExchangeMTURequestCode, buf)
	if err != nil {
		return 0, err
	}
	if r.Status != 0 {
		return 0, r.Status
	}
	rsp := ExchangeMTUResponse(r.PDU)
	return int(rsp.ServerRxMTU()), nil
}

// FindInformation enumerates attribute handle/UUID pairs in
// [starth, endh]. Returns the response format (0x01 or 0x02) and the
// raw information data; format 0x02 (128-bit UUID) entries are the
// caller's responsibility to skip. [Vol 3, Part F, 3.4.3.1/.2]
func (c *Client) FindInformation(starth, endh uint16) (format int, data []byte, err error) {
	if starth == 0 || starth > endh {
		return 0, nil, gc.ErrInvalidArgs
	}
	buf := make([]byte, 5)
	req := FindInformationRequest(buf)
	req.SetAttributeOpcode()
	req.SetStartingHandle(starth)
	req.SetEndingHandle(endh)

	r, err := c.send(FindInformationRequestCode, buf)
	if err != nil {
		return 0, nil, err
	}
	if r.Status != 0 {
		return 0, nil, r.Status
	}
	rsp := FindInformationResponse(r.PDU)
	return int(rsp.Format()), rsp.InformationData(), nil
}

// ReadByType drives "Discover All Characteristics of a Service"
// [Vol 3, Part F, 3.4.4.1/.2].
func (c *Client) ReadByType(starth, endh uint16, uuid gc.UUID) (length int, data []byte, err error) {
	if starth > endh {
		return 0, nil, gc.ErrInvalidArgs
	}
	buf := make([]byte, 5+len(uuid))
	req := ReadByTypeRequest(buf)
	req.SetAttributeOpcode()
	req.SetStartingHandle(starth)
	req.SetEndingHandle(endh)
	req.SetAttributeType(uuid)

	r, err := c.send(ReadByTypeRequestCode, buf)
	if err != nil {
		return 0, nil, err
	}
	if r.Status != 0 {
		return 0, nil, r.Status
	}
	rsp := ReadByTypeResponse(r.PDU)
	return int(rsp.Length()), rsp.AttributeDataList(), nil
}

// ReadByGroupType drives "Discover All Primary Services"
// [Vol 3, Part F, 3.4.4.9/.10].
func (c *Client) ReadByGroupType(starth, endh uint16, uuid gc.UUID) (length int, data []byte, err error) {
	if starth > endh {
		return 0, nil, gc.ErrInvalidArgs
	}
	buf := make([]byte, 5+len(uuid))
	req := ReadByGroupTypeRequest(buf)
	req.SetAttributeOpcode()
	req.SetStartingHandle(starth)
	req.SetEndingHandle(endh)
	req.SetAttributeGroupType(uuid)

	r, err := c.send(ReadByGroupTypeRequestCode, buf)
	if err != nil {
		return 0, nil, err
	}
	if r.Status != 0 {
		return 0, nil, r.Status
	}
	rsp := ReadByGroupTypeResponse(r.PDU)
	return int(rsp.Length()), rsp.AttributeDataList(), nil
}

// Read requests the value of handle. [Vol 3, Part F, 3.4.4.3/.4]
func (c *Client) Read(handle uint16) ([]byte, error) {
	buf := make([]byte, 3)
	req := ReadRequest(buf)
	req.SetAttributeOpcode()
	req.SetAttributeHandle(handle)

	r, err := c.send(ReadRequestCode, buf)
	if err != nil {
		return nil, err
	}
	if r.Status != 0 {
		return nil, r.Status
	}
	return ReadResponse(r.PDU).AttributeValue(), nil
}

// Write requests handle be set to value. [Vol 3, Part F, 3.4.5.1/.2]
// Payload chunking (long writes) is deliberately absent: a payload
// longer than mtu-3 is rejected rather than split.
func (c *Client) Write(handle uint16, value []byte) error {
	if len(value) > c.conn.TxMTU()-3 {
		return gc.ErrInvalidArgs
	}
	buf := make([]byte, 3+len(value))
	req := WriteRequest(buf)
	req.SetAttributeOpcode()
	req.SetAttributeHandle(handle)
	req.SetAttributeValue(value)

	r, err := c.send(WriteRequestCode, buf)
	if err != nil {
		return err
	}
	if r.Status != 0 {
		return r.Status
	}
	return nil
}

// Loop reads PDUs off conn until it closes, dispatching responses to
// their waiting caller and notifications/indications to registered
// handlers. Run it in its own goroutine.
func (c *Client) Loop() {
	defer c.Close(gc.ErrRemoteDisconnected)

	rxBuf := make([]byte, c.conn.RxMTU())
	for {
		select {
		case <-c.done:
			return
		default:
		}

		n, err := c.conn.Read(rxBuf)
		if err != nil {
			if err != io.EOF {
				c.log.Errorf("att: read: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		pdu := make([]byte, n)
		copy(pdu, rxBuf[:n])
		c.dispatch(pdu)
	}
}

func (c *Client) dispatch(pdu []byte) {
	if len(pdu) < 1 {
		return
	}
	opcode := pdu[0]

	switch opcode {
	case HandleValueNotificationCode:
		if len(pdu) < 3 {
			c.log.Warnf("att: malformed notification, dropping")
			return
		}
		c.invokeHandlers(opcode, pdu)
		return

	case HandleValueIndicationCode:
		if len(pdu) < 3 {
			c.log.Warnf("att: malformed indication, dropping (no confirmation sent)")
			return
		}
		// Confirm first, then dispatch: two explicit statements rather
		// than a fallthrough, so the ordering reads unambiguously.
		c.confirm()
		c.invokeHandlers(opcode, pdu)
		return
	}

	if opcode == ErrorResponseCode {
		if len(pdu) < 5 {
			c.log.Warnf("att: malformed error response, dropping")
			return
		}
		c.completeResponse(gc.ATTError(ErrorResponse(pdu).ErrorCode()), pdu)
		return
	}

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != nil && opcode == rspOfReq[cur.opcode] {
		c.completeResponse(0, pdu)
		return
	}

	c.log.Warnf("att: unexpected opcode 0x%02x with no pending request", opcode)
}

func (c *Client) completeResponse(status gc.ATTError, pdu []byte) {
	c.advance(Reply{Status: status, PDU: pdu})
}

func (c *Client) confirm() {
	buf := make([]byte, 1)
	HandleValueConfirmation(buf).SetAttributeOpcode()
	if _, err := c.conn.Write(buf); err != nil {
		c.log.Errorf("att: send confirmation: %v", err)
	}
}

func (c *Client) invokeHandlers(opcode byte, pdu []byte) {
	c.handlersMu.RLock()
	hs := append([]Handler(nil), c.handlers[opcode]...)
	c.handlersMu.RUnlock()
	for _, h := range hs {
		h.Handle(opcode, pdu)
	}
}
