// Package att implements the Attribute Protocol PDU codec and request
// pipeline. PDU types are []byte-backed accessor structs, little-endian,
// one per opcode.
package att

import "encoding/binary"

// Opcodes for the procedures this package drives, plus the two
// group/type read opcodes the discovery procedures use.
const (
	ErrorResponseCode           = 0x01
	ExchangeMTURequestCode      = 0x02
	ExchangeMTUResponseCode     = 0x03
	FindInformationRequestCode  = 0x04
	FindInformationResponseCode = 0x05
	ReadByTypeRequestCode       = 0x08
	ReadByTypeResponseCode      = 0x09
	ReadRequestCode             = 0x0A
	ReadResponseCode            = 0x0B
	ReadByGroupTypeRequestCode  = 0x10
	ReadByGroupTypeResponseCode = 0x11
	WriteRequestCode            = 0x12
	WriteResponseCode           = 0x13
	HandleValueNotificationCode = 0x1B
	HandleValueIndicationCode   = 0x1D
	HandleValueConfirmationCode = 0x1E
)

// rspOfReq maps a request opcode to the response opcode the pipeline
// expects in reply to the pending request.
var rspOfReq = map[byte]byte{
	ExchangeMTURequestCode:      ExchangeMTUResponseCode,
	FindInformationRequestCode:  FindInformationResponseCode,
	ReadByTypeRequestCode:       ReadByTypeResponseCode,
	ReadRequestCode:             ReadResponseCode,
	ReadByGroupTypeRequestCode:  ReadByGroupTypeResponseCode,
	WriteRequestCode:            WriteResponseCode,
	HandleValueIndicationCode:   HandleValueConfirmationCode,
}

// ErrorResponse implements Error Response (0x01) [Vol 3, Part F, 3.4.1.1].
type ErrorResponse []byte

func (r ErrorResponse) AttributeOpcode() uint8        { return r[0] }
func (r ErrorResponse) SetAttributeOpcode()           { r[0] = ErrorResponseCode }
func (r ErrorResponse) RequestOpcodeInError() uint8   { return r[1] }
func (r ErrorResponse) SetRequestOpcodeInError(v byte) { r[1] = v }
func (r ErrorResponse) AttributeInError() uint16      { return binary.LittleEndian.Uint16(r[2:]) }
func (r ErrorResponse) SetAttributeInError(v uint16)  { binary.LittleEndian.PutUint16(r[2:], v) }
func (r ErrorResponse) ErrorCode() uint8              { return r[4] }
func (r ErrorResponse) SetErrorCode(v uint8)          { r[4] = v }

// ExchangeMTURequest implements Exchange MTU Request (0x02)
// [Vol 3, Part F, 3.4.2.1].
type ExchangeMTURequest []byte

func (r ExchangeMTURequest) SetAttributeOpcode()     { r[0] = ExchangeMTURequestCode }
func (r ExchangeMTURequest) ClientRxMTU() uint16     { return binary.LittleEndian.Uint16(r[1:]) }
func (r ExchangeMTURequest) SetClientRxMTU(v uint16) { binary.LittleEndian.PutUint16(r[1:], v) }

// ExchangeMTUResponse implements Exchange MTU Response (0x03)
// [Vol 3, Part F, 3.4.2.2].
type ExchangeMTUResponse []byte

func (r ExchangeMTUResponse) AttributeOpcode() uint8 { return r[0] }
func (r ExchangeMTUResponse) ServerRxMTU() uint16    { return binary.LittleEndian.Uint16(r[1:]) }

// FindInformationRequest implements Find Information Request (0x04)
// [Vol 3, Part F, 3.4.3.1].
type FindInformationRequest []byte

func (r FindInformationRequest) SetAttributeOpcode()          { r[0] = FindInformationRequestCode }
func (r FindInformationRequest) SetStartingHandle(v uint16)    { binary.LittleEndian.PutUint16(r[1:], v) }
func (r FindInformationRequest) SetEndingHandle(v uint16)      { binary.LittleEndian.PutUint16(r[3:], v) }

// FindInformationResponse implements Find Information Response (0x05)
// [Vol 3, Part F, 3.4.3.2]. Format 0x01 carries (handle u16, 16-bit
// UUID) pairs; format 0x02 carries (handle u16, 128-bit UUID) pairs.
// Only format 0x01 is parsed here; format 0x02 entries are skipped by
// the caller.
type FindInformationResponse []byte

func (r FindInformationResponse) AttributeOpcode() uint8  { return r[0] }
func (r FindInformationResponse) Format() uint8           { return r[1] }
func (r FindInformationResponse) InformationData() []byte { return r[2:] }

// ReadByTypeRequest implements Read By Type Request (0x08)
// [Vol 3, Part F, 3.4.4.1], used to drive "Discover All Characteristics
// of a Service" with the Characteristic declaration UUID.
type ReadByTypeRequest []byte

func (r ReadByTypeRequest) SetAttributeOpcode()       { r[0] = ReadByTypeRequestCode }
func (r ReadByTypeRequest) SetStartingHandle(v uint16) { binary.LittleEndian.PutUint16(r[1:], v) }
func (r ReadByTypeRequest) SetEndingHandle(v uint16)   { binary.LittleEndian.PutUint16(r[3:], v) }
func (r ReadByTypeRequest) SetAttributeType(u []byte)  { copy(r[5:], u) }

// ReadByTypeResponse implements Read By Type Response (0x09)
// [Vol 3, Part F, 3.4.4.2].
type ReadByTypeResponse []byte

func (r ReadByTypeResponse) AttributeOpcode() uint8    { return r[0] }
func (r ReadByTypeResponse) Length() uint8             { return r[1] }
func (r ReadByTypeResponse) AttributeDataList() []byte { return r[2:] }

// ReadRequest implements Read Request (0x0A) [Vol 3, Part F, 3.4.4.3].
type ReadRequest []byte

func (r ReadRequest) SetAttributeOpcode()      { r[0] = ReadRequestCode }
func (r ReadRequest) SetAttributeHandle(v uint16) { binary.LittleEndian.PutUint16(r[1:], v) }

// ReadResponse implements Read Response (0x0B) [Vol 3, Part F, 3.4.4.4].
type ReadResponse []byte

func (r ReadResponse) AttributeOpcode() uint8   { return r[0] }
func (r ReadResponse) AttributeValue() []byte   { return r[1:] }

// ReadByGroupTypeRequest implements Read By Group Type Request (0x10)
// [Vol 3, Part F, 3.4.4.9], used to drive "Discover All Primary
// Services" with the Primary Service declaration UUID.
type ReadByGroupTypeRequest []byte

func (r ReadByGroupTypeRequest) SetAttributeOpcode()        { r[0] = ReadByGroupTypeRequestCode }
func (r ReadByGroupTypeRequest) SetStartingHandle(v uint16) { binary.LittleEndian.PutUint16(r[1:], v) }
func (r ReadByGroupTypeRequest) SetEndingHandle(v uint16)   { binary.LittleEndian.PutUint16(r[3:], v) }
func (r ReadByGroupTypeRequest) SetAttributeGroupType(u []byte) { copy(r[5:], u) }

// ReadByGroupTypeResponse implements Read By Group Type Response (0x11)
// [Vol 3, Part F, 3.4.4.10].
type ReadByGroupTypeResponse []byte

func (r ReadByGroupTypeResponse) AttributeOpcode() uint8    { return r[0] }
func (r ReadByGroupTypeResponse) Length() uint8             { return r[1] }
func (r ReadByGroupTypeResponse) AttributeDataList() []byte { return r[2:] }

// WriteRequest implements Write Request (0x12) [Vol 3, Part F, 3.4.5.1].
type WriteRequest []byte

func (r WriteRequest) SetAttributeOpcode()        { r[0] = WriteRequestCode }
func (r WriteRequest) SetAttributeHandle(v uint16) { binary.LittleEndian.PutUint16(r[1:], v) }
func (r WriteRequest) SetAttributeValue(v []byte)  { copy(r[3:], v) }

// WriteResponse implements Write Response (0x13) [Vol 3, Part F, 3.4.5.2].
type WriteResponse []byte

func (r WriteResponse) AttributeOpcode() uint8 { return r[0] }

// HandleValueNotification implements Handle Value Notification (0x1B)
// [Vol 3, Part F, 3.4.7.1]. Unlike Indication, it carries no
// confirmation obligation.
type HandleValueNotification []byte

func (r HandleValueNotification) AttributeOpcode() uint8 { return r[0] }
func (r HandleValueNotification) AttributeHandle() uint16 {
	return binary.LittleEndian.Uint16(r[1:])
}
func (r HandleValueNotification) AttributeValue() []byte { return r[3:] }

// HandleValueIndication implements Handle Value Indication (0x1D)
// [Vol 3, Part F, 3.4.7.2]. The pipeline emits a Confirmation for
// every one of at least 3 bytes, matched or not; shorter ones are
// dropped unconfirmed.
type HandleValueIndication []byte

func (r HandleValueIndication) AttributeOpcode() uint8 { return r[0] }
func (r HandleValueIndication) AttributeHandle() uint16 {
	return binary.LittleEndian.Uint16(r[1:])
}
func (r HandleValueIndication) AttributeValue() []byte { return r[3:] }

// HandleValueConfirmation implements Handle Value Confirmation (0x1E)
// [Vol 3, Part F, 3.4.7.3]. It carries no payload beyond the opcode.
type HandleValueConfirmation []byte

func (r HandleValueConfirmation) SetAttributeOpcode() { r[0] = HandleValueConfirmationCode }

// NewErrorResponse builds an Error Response PDU for reqOpcode/handle/code.
func NewErrorResponse(reqOpcode byte, handle uint16, code byte) []byte {
	b := make([]byte, 5)
	r := ErrorResponse(b)
	r.SetAttributeOpcode()
	r.SetRequestOpcodeInError(reqOpcode)
	r.SetAttributeInError(handle)
	r.SetErrorCode(code)
	return b
}
