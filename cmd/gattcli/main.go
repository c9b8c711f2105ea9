// gattcli is a reference command-line binding over the GATT client
// facade, standing in for the object-path/IPC publisher a real
// integration would sit behind.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	gc "github.com/corvidlabs/gattclient"
	"github.com/corvidlabs/gattclient/gatt"
	"github.com/corvidlabs/gattclient/l2cap"
	"github.com/corvidlabs/gattclient/store"
)

var client *gatt.Client

func main() {
	app := cli.NewApp()
	app.Name = "gattcli"
	app.Usage = "discover, read, write, and subscribe to a BLE peripheral's GATT services"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "cache", Value: "", Usage: "path to a JSON cache file"},
		cli.StringFlag{Name: "local", Value: "00:00:00:00:00:00", Usage: "local device address"},
		cli.StringFlag{Name: "peer", Usage: "peer device address"},
		cli.IntFlag{Name: "psm", Value: 0, Usage: "dynamic PSM, 0 for the fixed ATT CID"},
	}
	app.Before = setup
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "discover",
			Usage:  "discover characteristics of a primary service",
			Action: discoverCommand,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "start", Usage: "primary service start handle, hex (e.g. 0x0010)"},
				cli.StringFlag{Name: "end", Usage: "primary service end handle, hex"},
				cli.StringFlag{Name: "uuid", Usage: "primary service UUID, hex"},
			},
		},
		cli.Command{
			Name:   "read",
			Usage:  "read a characteristic value",
			Action: readCommand,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "start", Usage: "primary service start handle, hex"},
				cli.StringFlag{Name: "end", Value: "0xffff", Usage: "primary service end handle, hex"},
				cli.StringFlag{Name: "handle", Usage: "characteristic value handle, hex"},
			},
		},
		cli.Command{
			Name:   "write",
			Usage:  "write a characteristic value",
			Action: writeCommand,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "start", Usage: "primary service start handle, hex"},
				cli.StringFlag{Name: "end", Value: "0xffff", Usage: "primary service end handle, hex"},
				cli.StringFlag{Name: "handle", Usage: "characteristic value handle, hex"},
				cli.StringFlag{Name: "value", Usage: "hex-encoded value"},
			},
		},
		cli.Command{
			Name:   "subscribe",
			Usage:  "register a watcher and print value changes",
			Action: subscribeCommand,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "start", Usage: "primary service start handle, hex"},
				cli.StringFlag{Name: "end", Value: "0xffff", Usage: "primary service end handle, hex"},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gattcli:", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	var st gatt.Store
	if path := c.GlobalString("cache"); path != "" {
		fs, err := store.Open(path)
		if err != nil {
			return err
		}
		st = fs
	}
	client = gatt.NewClient(gc.DefaultConfig(), st)
	return nil
}

func parseAddr(s string) (l2cap.Addr, error) {
	var a l2cap.Addr
	b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil || len(b) != 6 {
		return a, fmt.Errorf("gattcli: %q is not a 6-byte hex address", s)
	}
	for i := range a {
		a[5-i] = b[i]
	}
	return a, nil
}

func parseHandle(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}

func peerID(c *cli.Context) (gatt.PeerID, error) {
	local, err := parseAddr(c.GlobalString("local"))
	if err != nil {
		return gatt.PeerID{}, err
	}
	peer, err := parseAddr(c.GlobalString("peer"))
	if err != nil {
		return gatt.PeerID{}, err
	}
	return gatt.PeerID{Local: local, Peer: peer}, nil
}

// dialAndRegister opens a fresh L2CAP connection for this invocation
// and registers it with the facade under decls. Every subcommand runs
// as its own process, so a registration (and any cached characteristic
// layout a prior "discover" persisted under --cache) is rebuilt here
// rather than assumed to survive between commands.
func dialAndRegister(c *cli.Context, decls []gatt.PrimaryDecl) (gatt.PeerID, error) {
	id, err := peerID(c)
	if err != nil {
		return id, err
	}
	local, _ := parseAddr(c.GlobalString("local"))
	peer, _ := parseAddr(c.GlobalString("peer"))
	conn, err := l2cap.Dial(local, peer, uint16(c.GlobalInt("psm")))
	if err != nil {
		return id, err
	}
	if _, err := client.Register(id, uint16(c.GlobalInt("psm")), conn, decls); err != nil {
		return id, err
	}
	return id, nil
}

func discoverCommand(c *cli.Context) error {
	start, err := parseHandle(c.String("start"))
	if err != nil {
		return err
	}
	end, err := parseHandle(c.String("end"))
	if err != nil {
		return err
	}
	uuidBytes, err := hex.DecodeString(c.String("uuid"))
	if err != nil {
		return err
	}

	id, err := dialAndRegister(c, []gatt.PrimaryDecl{{Start: start, End: end, UUID: gc.UUID(uuidBytes)}})
	if err != nil {
		return err
	}

	resultc, err := client.DiscoverCharacteristics(id, start)
	if err != nil {
		return err
	}
	result := <-resultc
	if result.Err != nil {
		return result.Err
	}
	for _, path := range result.Paths {
		fmt.Println(path)
	}
	return nil
}

// primaryDeclFromFlags builds the single PrimaryDecl read/write/
// subscribe register under, so their lookup-by-start-handle succeeds
// and, given --cache, LoadCharacteristics repopulates the
// characteristic a prior discover run persisted.
func primaryDeclFromFlags(c *cli.Context) (gatt.PrimaryDecl, error) {
	start, err := parseHandle(c.String("start"))
	if err != nil {
		return gatt.PrimaryDecl{}, err
	}
	end, err := parseHandle(c.String("end"))
	if err != nil {
		return gatt.PrimaryDecl{}, err
	}
	return gatt.PrimaryDecl{Start: start, End: end}, nil
}

func readCommand(c *cli.Context) error {
	decl, err := primaryDeclFromFlags(c)
	if err != nil {
		return err
	}
	id, err := dialAndRegister(c, []gatt.PrimaryDecl{decl})
	if err != nil {
		return err
	}
	handle, err := parseHandle(c.String("handle"))
	if err != nil {
		return err
	}
	v, err := client.ReadValue(id, decl.Start, handle)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(v))
	return nil
}

func writeCommand(c *cli.Context) error {
	decl, err := primaryDeclFromFlags(c)
	if err != nil {
		return err
	}
	id, err := dialAndRegister(c, []gatt.PrimaryDecl{decl})
	if err != nil {
		return err
	}
	handle, err := parseHandle(c.String("handle"))
	if err != nil {
		return err
	}
	value, err := hex.DecodeString(c.String("value"))
	if err != nil {
		return err
	}
	return client.WriteValue(id, decl.Start, handle, value)
}

func subscribeCommand(c *cli.Context) error {
	decl, err := primaryDeclFromFlags(c)
	if err != nil {
		return err
	}
	id, err := dialAndRegister(c, []gatt.PrimaryDecl{decl})
	if err != nil {
		return err
	}
	_, err = client.RegisterWatcher(id, decl.Start, "gattcli", "/gattcli", func(path string, value []byte) {
		fmt.Printf("%s: %s\n", path, hex.EncodeToString(value))
	})
	if err != nil {
		return err
	}
	select {}
}
