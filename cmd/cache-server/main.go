// Command cache-server is a cache-front proxy: a front service terminates
// the pw-coded Protocol7001 request/response protocol facing clients, and
// a db service speaks the memcached binary protocol to a cache backend.
// The front service translates each Set/Get into a memcached request,
// correlates the eventual memcached response back to the requesting
// client token via an "ongoing" table, and replies on the front
// connection. Both services are hosted in one process and one
// reactor.Loop.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/cachefront/reactor/cmd/internal/proto7001"
	"github.com/cachefront/reactor/codec/memcached"
	"github.com/cachefront/reactor/config"
	"github.com/cachefront/reactor/reactor"
	"github.com/cachefront/reactor/service"
)

var VERSION = "SELFBUILD"

// tableConfig shards cache keys across a fixed number of logical
// partitions, one per day-of-epoch modulo count.
type tableConfig struct {
	Prefix string `json:"prefix" toml:"prefix"`
	Count  uint32 `json:"count"  toml:"count"`
}

func keyString(table tableConfig, key proto7001.Key) string {
	part := (key.Timestamp / 86400) % table.Count
	return fmt.Sprintf("@@%s%d.%016X|%08X|%08X", table.Prefix, part, key.RoleID, key.Timestamp, key.Passcode)
}

// ongoing correlates a front-facing request with the memcached response
// it's waiting on, keyed by the opaque value attached to the memcached
// request.
type ongoing struct {
	token  reactor.Token
	roleID uint64
	key    proto7001.Key
	start  time.Time
}

type frontService struct {
	svc     *service.Service[proto7001.Message]
	table   tableConfig
	ongoing map[uint32]ongoing
	nextOp  uint32
	db      *service.Service[memcached.Packet]
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
		opaque := f.nextOp
		f.nextOp++
		keystr := keyString(f.table, p.Key)
		logrus.WithFields(logrus.Fields{"token": token, "opaque": opaque, "key": keystr}).Trace("front_service receive request set")
		f.ongoing[opaque] = ongoing{token: token, key: p.Key, start: time.Now()}
		f.db.Broadcast(memcached.NewRequestSet(opaque, keystr, p.Value))
	case proto7001.Get:
		opaque := f.nextOp
		f.nextOp++
		keystr := keyString(f.table, p.Key)
		logrus.WithFields(logrus.Fields{"token": token, "opaque": opaque, "key": keystr}).Trace("front_service receive request get")
		f.ongoing[opaque] = ongoing{token: token, roleID: p.RoleID, key: p.Key, start: time.Now()}
		f.db.Broadcast(memcached.NewRequestGet(opaque, keystr))
	default:
		f.svc.Shutdown(token)
	}
}

func (f *frontService) Outgoing(token reactor.Token, packet proto7001.Message) {}

type dbService struct {
	front *frontService
}

func (d *dbService) Connected(token reactor.Token) {
	logrus.WithField("token", token).Info("db_service connected to db")
}

func (d *dbService) Disconnected(token reactor.Token) {
	logrus.WithField("token", token).Info("db_service disconnected from db")
}

func (d *dbService) Incoming(intoken reactor.Token, packet memcached.Packet) {
	opaque := packet.Header.Opaque
	result := int32(packet.Header.Status)
	og, ok := d.front.ongoing[opaque]
	if !ok {
		logrus.WithFields(logrus.Fields{"intoken": intoken, "opaque": opaque}).Trace("db_service receive response to unknown request")
		return
	}
	delete(d.front.ongoing, opaque)
	elapsed := time.Since(og.start)

	switch packet.Header.Opcode {
	case memcached.CmdGet:
		logrus.WithFields(logrus.Fields{
			"intoken": intoken, "opaque": opaque, "token": og.token, "key": og.key, "result": result, "elapsed": elapsed,
		}).Trace("db_service receive response to get")
		d.front.svc.Write(og.token, proto7001.GetRe{RoleID: og.roleID, Key: og.key, Result: result, Value: packet.Value})
	case memcached.CmdSet:
		logrus.WithFields(logrus.Fields{
			"intoken": intoken, "opaque": opaque, "token": og.token, "key": og.key, "result": result, "elapsed": elapsed,
		}).Trace("db_service receive response to set")
		d.front.svc.Write(og.token, proto7001.SetRe{Key: og.key, Result: result})
	default:
		logrus.WithField("intoken", intoken).Trace("db_service receive unknown response")
	}
}

func (d *dbService) Outgoing(token reactor.Token, packet memcached.Packet) {}

func run(ctx *cli.Context) error {
	if ctx.Bool("verbose") {
		logrus.SetLevel(logrus.TraceLevel)
	}

	path := ctx.String("config")
	frontCfg, err := config.Load(path, "front_service")
	if err != nil {
		return err
	}
	dbCfg, err := config.Load(path, "db_service")
	if err != nil {
		return err
	}
	var table tableConfig
	if err := config.DecodeSection(path, "table", &table); err != nil {
		return err
	}
	if table.Count == 0 {
		return fmt.Errorf("cache-server: table.count must be > 0")
	}
	if table.Count < 4 {
		color.Yellow("warning: table.count=%d gives poor key sharding, consider >= 4", table.Count)
	}

	loop, err := reactor.New()
	if err != nil {
		return err
	}
	defer loop.Close()

	front := &frontService{table: table, ongoing: make(map[uint32]ongoing)}
	frontSvc := service.New(loop, proto7001.NewStreamer(), front)
	front.svc = frontSvc

	db := &dbService{front: front}
	dbSvc := service.New(loop, memcached.NewStreamer(), db)
	front.db = dbSvc

	if err := frontSvc.Start(frontCfg); err != nil {
		return err
	}
	if err := dbSvc.Start(dbCfg); err != nil {
		return err
	}

	// Named so an operator hook added later (a signal handler reloading
	// config, an admin endpoint reporting StreamsCount) can reach either
	// service by name instead of growing more fields on frontService/
	// dbService; neither lifecycle method above needs the lookup itself.
	registry := service.NewRegistry()
	registry.Put(frontCfg.Name, frontSvc)
	registry.Put(dbCfg.Name, dbSvc)

	return loop.Run()
}

func main() {
	app := cli.NewApp()
	app.Name = "cache-server"
	app.Usage = "pw-protocol front service backed by a memcached-speaking db service"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.toml", Usage: "path to a JSON or TOML config file with front_service/db_service/table sections"},
		cli.BoolFlag{Name: "verbose, v", Usage: "trace-level logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("cache-server exited")
	}
}
