// rabbitdht is the command-line client for the BitTorrent DHT node.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/prxssh/rabbitdht/internal/config"
	"github.com/prxssh/rabbitdht/internal/dht"
	"github.com/prxssh/rabbitdht/pkg/utils/logging"
)

// Version is the application revision identifier. It can be set with the
// linker as in: go build -ldflags "-X main.Version="`git describe --tags`
var Version = "unknown"

var (
	ListenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "UDP address to listen on",
		Value: ":6881",
	}
	BootstrapFlag = cli.StringSliceFlag{
		Name:  "bootstrap",
		Usage: "bootstrap node, host:port (repeatable)",
	}
	NodeIDFlag = cli.StringFlag{
		Name:  "node-id",
		Usage: "160-bit hex node ID; random if unset",
	}
	VerboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "enable debug logging",
	}
	TimeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Usage: "how long to run a lookup before giving up",
		Value: 30 * time.Second,
	}
	PortFlag = cli.IntFlag{
		Name:  "port",
		Usage: "port to announce for announce-peer",
	}
)

func main() {
	config.Init()

	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Version = Version
	app.Usage = "a Kademlia DHT node for BitTorrent peer discovery"
	app.Flags = []cli.Flag{ListenFlag, BootstrapFlag, NodeIDFlag, VerboseFlag}
	app.Commands = []cli.Command{
		getPeersCommand,
		announceCommand,
		findNodeCommand,
		pingCommand,
		daemonCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var getPeersCommand = cli.Command{
	Name:      "get-peers",
	Usage:     "look up peers announced for an info-hash",
	ArgsUsage: "<info-hash hex>",
	Flags:     []cli.Flag{TimeoutFlag},
	Action:    runGetPeers,
}

var announceCommand = cli.Command{
	Name:      "announce",
	Usage:     "announce this node as a peer for an info-hash",
	ArgsUsage: "<info-hash hex>",
	Flags:     []cli.Flag{TimeoutFlag, PortFlag},
	Action:    runAnnounce,
}

var findNodeCommand = cli.Command{
	Name:      "find-node",
	Usage:     "look up the nodes closest to a target ID",
	ArgsUsage: "<target hex>",
	Flags:     []cli.Flag{TimeoutFlag},
	Action:    runFindNode,
}

var pingCommand = cli.Command{
	Name:      "ping",
	Usage:     "ping a single node",
	ArgsUsage: "<host:port>",
	Action:    runPing,
}

var daemonCommand = cli.Command{
	Name:   "daemon",
	Usage:  "run the node continuously, bootstrapping and refreshing the routing table",
	Action: runDaemon,
}

func setupNode(c *cli.Context) (*dht.DHT, error) {
	logger := newLogger(c)

	localID, err := resolveNodeID(c.GlobalString("node-id"))
	if err != nil {
		return nil, err
	}

	node, err := dht.NewDHT(&dht.Config{
		Logger:         logger,
		LocalID:        localID,
		ListenAddr:     c.GlobalString("listen"),
		BootstrapNodes: c.GlobalStringSlice("bootstrap"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DHT node: %w", err)
	}

	if err := node.Start(); err != nil {
		return nil, fmt.Errorf("failed to start DHT node: %w", err)
	}

	return node, nil
}

func runGetPeers(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: rabbitdht get-peers <info-hash hex>", 1)
	}

	infoHash, err := dht.ParseID(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	node, err := setupNode(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer node.Stop()

	var peers []net.Addr
	err = runWithTimeout(c, func() (err error) {
		peers, err = node.GetPeers(infoHash)
		return err
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	for _, p := range peers {
		fmt.Println(p.String())
	}
	return nil
}

func runAnnounce(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: rabbitdht announce <info-hash hex>", 1)
	}

	infoHash, err := dht.ParseID(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	node, err := setupNode(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer node.Stop()

	err = runWithTimeout(c, func() error {
		return node.AnnouncePeer(infoHash, c.Int("port"))
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	fmt.Println("announced")
	return nil
}

func runFindNode(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: rabbitdht find-node <target hex>", 1)
	}

	target, err := dht.ParseID(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	node, err := setupNode(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer node.Stop()

	var contacts []*dht.Contact
	err = runWithTimeout(c, func() (err error) {
		contacts, err = node.FindNode(target)
		return err
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	for _, contact := range contacts {
		fmt.Printf("%s %s\n", contact.ID(), contact.Addr())
	}
	return nil
}

func runPing(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: rabbitdht ping <host:port>", 1)
	}

	node, err := setupNode(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer node.Stop()

	addr, err := resolveUDPAddr(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	if err := node.Ping(addr); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	fmt.Println("pong")
	return nil
}

func runDaemon(c *cli.Context) error {
	node, err := setupNode(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer node.Stop()

	fmt.Printf("listening on %s\n", node.LocalAddr())
	select {}
}

func newLogger(c *cli.Context) *slog.Logger {
	opts := logging.DefaultOptions()
	if c.GlobalBool("verbose") {
		opts.SlogOpts.Level = slog.LevelDebug
	}
	return slog.New(logging.NewPrettyHandler(os.Stderr, &opts))
}

func resolveNodeID(hexID string) (dht.ID, error) {
	if hexID == "" {
		return dht.RandomID(), nil
	}
	return dht.ParseID(hexID)
}

func resolveUDPAddr(s string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", s)
}

// runWithTimeout runs fn to completion, giving up and returning an error
// once the command's --timeout elapses. fn keeps running in the background
// after a timeout since DHT lookups have no cancellation path of their own;
// the command simply stops waiting on it.
func runWithTimeout(c *cli.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-time.After(c.Duration("timeout")):
		return fmt.Errorf("timed out after %s", c.Duration("timeout"))
	}
}
