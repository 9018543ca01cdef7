// Command echo-server is a single front-facing Service speaking the
// pw-coded "Protocol7001" request/response pair, answering Set with
// SetRe(key, 0) and Get with a fixed-size GetRe payload rather than
// actually touching a cache backend. It exists to exercise the
// reactor/stream/codec/service stack end to end with the smallest
// possible handler.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/cachefront/reactor/cmd/internal/proto7001"
	"github.com/cachefront/reactor/config"
	"github.com/cachefront/reactor/reactor"
	"github.com/cachefront/reactor/service"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

type frontService struct {
	svc *service.Service[proto7001.Message]
}

func (f *frontService) Connected(token reactor.Token) {
	logrus.WithField("token", token).Trace("front_service connected")
}

func (f *frontService) Disconnected(token reactor.Token) {
	logrus.WithField("token", token).Trace("front_service disconnected")
}

func (f *frontService) Incoming(token reactor.Token, packet proto7001.Message) {
	switch p := packet.(type) {
	case proto7001.Set:
		logrus.WithField("token", token).WithField("key", p.Key).Trace("front_service receive request set")
		f.svc.Write(token, proto7001.SetRe{Key: p.Key, Result: 0})
	case proto7001.Get:
		logrus.WithField("token", token).WithField("key", p.Key).Trace("front_service receive request get")
		value := make([]byte, 5555)
		for i := range value {
			value[i] = 57
		}
		f.svc.Write(token, proto7001.GetRe{RoleID: p.RoleID, Key: p.Key, Result: 0, Value: value})
	default:
		logrus.WithField("token", token).Trace("front_service fail")
		f.svc.Shutdown(token)
	}
}

func (f *frontService) Outgoing(token reactor.Token, packet proto7001.Message) {}

func run(c *cli.Context) error {
	if c.Bool("verbose") {
		logrus.SetLevel(logrus.TraceLevel)
	}

	cfg, err := config.Load(c.String("config"), c.String("section"))
	if err != nil {
		return err
	}

	loop, err := reactor.New()
	if err != nil {
		return err
	}
	defer loop.Close()

	front := &frontService{}
	streamer := proto7001.NewStreamer()
	svc := service.New(loop, streamer, front)
	front.svc = svc

	if err := svc.Start(cfg); err != nil {
		return fmt.Errorf("echo-server: start: %w", err)
	}
	return loop.Run()
}

func main() {
	app := cli.NewApp()
	app.Name = "echo-server"
	app.Usage = "pw-protocol echo service, no cache backend"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.toml", Usage: "path to a JSON or TOML config file"},
		cli.StringFlag{Name: "section, s", Value: "front_service", Usage: "config section to load"},
		cli.BoolFlag{Name: "verbose, v", Usage: "trace-level logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("echo-server exited")
	}
}
