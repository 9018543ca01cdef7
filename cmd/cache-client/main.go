// Command cache-client is a load generator for cache-server: it dials a
// front service, fires a configurable number of concurrent Set/Get
// request chains, and reports mean/max latency once every chain has
// completed.
package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/cachefront/reactor/cmd/internal/proto7001"
	"github.com/cachefront/reactor/config"
	"github.com/cachefront/reactor/reactor"
	"github.com/cachefront/reactor/service"
)

var VERSION = "SELFBUILD"

// stat keeps running totals for one request kind (set or get), printed
// once every expected response has arrived.
type stat struct {
	conn     uint32
	sent     uint32
	got      uint32
	timeSum  time.Duration
	timeMax  time.Duration
	lastDone time.Time
}

func (s *stat) print(kind string) {
	mean := time.Duration(0)
	if s.got > 0 {
		mean = s.timeSum / time.Duration(s.got)
	}
	logrus.WithFields(logrus.Fields{
		"kind": kind, "conn": s.conn, "sent": s.sent, "got": s.got,
		"mean_time": mean, "max_time": s.timeMax,
	}).Info("stats")
}

type clientService struct {
	svc    *service.Service[proto7001.Message]
	begin  time.Time
	concur uint32
	total  uint32
	setSt  stat
	getSt  stat
}

func (c *clientService) newKey() proto7001.Key {
	return proto7001.Key{
		RoleID:    24678,
		Timestamp: uint32(time.Now().Unix()),
		Passcode:  uint32(time.Since(c.begin).Milliseconds()),
	}
}

func (c *clientService) sendSet(token reactor.Token) {
	if c.setSt.sent >= c.total {
		return
	}
	key := c.newKey()
	c.svc.Write(token, proto7001.Set{Key: key, Value: bytesOf(0xCF, 5555)})
	c.setSt.sent++
}

func (c *clientService) sendGet(token reactor.Token, key proto7001.Key) {
	c.svc.Write(token, proto7001.Get{RoleID: 21476, Key: key})
	c.getSt.sent++
}

func (c *clientService) Connected(token reactor.Token) {
	logrus.WithField("token", token).Trace("client_service connected")
	c.setSt.conn++
	for i := uint32(0); i < c.concur; i++ {
		c.sendSet(token)
	}
}

func (c *clientService) Disconnected(token reactor.Token) {
	logrus.WithField("token", token).Trace("client_service disconnected")
}

func (c *clientService) Incoming(token reactor.Token, packet proto7001.Message) {
	now := time.Since(c.begin)
	switch p := packet.(type) {
	case proto7001.SetRe:
		c.setSt.lastDone = time.Now()
		c.setSt.got++
		t := now - time.Duration(p.Key.Passcode)*time.Millisecond
		c.setSt.timeSum += t
		if t > c.setSt.timeMax {
			c.setSt.timeMax = t
		}
		if c.setSt.got >= c.total {
			c.setSt.print("set")
		}
		c.sendGet(token, p.Key)
	case proto7001.GetRe:
		c.getSt.got++
		t := now - time.Duration(p.Key.Passcode)*time.Millisecond
		c.getSt.timeSum += t
		if t > c.getSt.timeMax {
			c.getSt.timeMax = t
		}
		if c.getSt.got >= c.total {
			c.getSt.print("get")
			c.svc.Exit()
		}
		c.sendSet(token)
	default:
		logrus.WithField("token", token).Trace("client_service fail")
		c.svc.Shutdown(token)
		c.svc.Exit()
	}
}

func (c *clientService) Outgoing(token reactor.Token, packet proto7001.Message) {}

func bytesOf(b byte, n int) []byte {
	v := make([]byte, n)
	for i := range v {
		v[i] = b
	}
	return v
}

func run(ctx *cli.Context) error {
	if ctx.Bool("verbose") {
		logrus.SetLevel(logrus.TraceLevel)
	}

	cfg, err := config.Load(ctx.String("config"), ctx.String("section"))
	if err != nil {
		return err
	}

	loop, err := reactor.New()
	if err != nil {
		return err
	}
	defer loop.Close()

	client := &clientService{
		begin:  time.Now(),
		concur: uint32(ctx.Int("concur")),
		total:  uint32(ctx.Int("total")),
	}
	svc := service.New(loop, proto7001.NewStreamer(), client)
	client.svc = svc

	if err := svc.Start(cfg); err != nil {
		return err
	}
	return loop.Run()
}

func main() {
	app := cli.NewApp()
	app.Name = "cache-client"
	app.Usage = "load-generating client for a cache-server front service"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.toml", Usage: "path to a JSON or TOML config file"},
		cli.StringFlag{Name: "section, s", Value: "client_service", Usage: "config section to load"},
		cli.IntFlag{Name: "concur", Value: 1, Usage: "concurrent set/get chains per connection"},
		cli.IntFlag{Name: "total", Value: 1000, Usage: "total set requests (each followed by a get) across all chains before reporting and exiting"},
		cli.BoolFlag{Name: "verbose, v", Usage: "trace-level logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("cache-client exited")
	}
}
