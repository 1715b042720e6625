// Package resp serves a tiercache.Cache[[]byte] over the Redis protocol so
// any redis client can GET/SET against the tier stack.
package resp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/redcon"

	"github.com/unkn0wn-root/tiercache"
)

const commandTimeout = 30 * time.Second

type command struct {
	name string
	args [][]byte
}

// output mirrors what a real Redis server would write for a non pub/sub command.
type output struct {
	closeConn bool
	writeNil  bool
	err       string
	writeInt  *int
	isBulk    bool
	bulk      []byte
	str       string
}

func closeConnection(msg string) output { return output{str: msg, closeConn: true} }
func writeNil() output                  { return output{writeNil: true} }
func writeInt(i int) output             { return output{writeInt: &i} }
func writeString(s string) output       { return output{str: s} }
func writeBulk(b []byte) output         { return output{isBulk: true, bulk: b} }

func writeError(err error) output {
	return output{err: "ERR " + err.Error()}
}

func wrongArity(cmd string) output {
	return writeError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(cmd)))
}

type handler struct {
	cache tiercache.Cache[[]byte]
	log   *logrus.Logger
}

func newHandler(cache tiercache.Cache[[]byte], log *logrus.Logger) (*handler, error) {
	if cache == nil {
		return nil, errors.New("resp: expected a non-nil cache")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &handler{cache: cache, log: log}, nil
}

func (h *handler) handle(ctx context.Context, cmd command) output {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch strings.ToUpper(cmd.name) {
	case "PING":
		if len(cmd.args) == 1 {
			return writeBulk(cmd.args[0])
		}
		return writeString("PONG")
	case "QUIT":
		return closeConnection("OK")
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.name)
		}
		v, err := h.cache.Retrieve(ctx, string(cmd.args[0])).Await(ctx)
		if errors.Is(err, tiercache.ErrCacheMiss) {
			return writeNil()
		}
		if err != nil {
			return writeError(err)
		}
		return writeBulk(v)
	case "SET":
		if len(cmd.args) != 2 {
			return wrongArity(cmd.name)
		}
		value := append([]byte(nil), cmd.args[1]...)
		rep, err := h.cache.Store(ctx, string(cmd.args[0]), value).Await(ctx)
		if err != nil {
			return writeError(err)
		}
		if failed := failedEverywhere(rep); failed != nil {
			return writeError(failed)
		}
		return writeString("OK")
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArity(cmd.name)
		}
		deleted := 0
		for _, k := range cmd.args {
			rep, err := h.cache.Remove(ctx, string(k)).Await(ctx)
			if err == nil && failedEverywhere(rep) == nil {
				deleted++
			}
		}
		return writeInt(deleted)
	case "EXISTS":
		if len(cmd.args) < 1 {
			return wrongArity(cmd.name)
		}
		n := 0
		for _, k := range cmd.args {
			if _, err := h.cache.Retrieve(ctx, string(k)).Await(ctx); err == nil {
				n++
			}
		}
		return writeInt(n)
	case "FLUSHALL", "FLUSHDB":
		rep, err := h.cache.RemoveAll(ctx).Await(ctx)
		if err != nil {
			return writeError(err)
		}
		if err := rep.Err(); err != nil {
			return writeError(err)
		}
		return writeString("OK")
	default:
		return writeError(fmt.Errorf("unknown command '%s'", cmd.name))
	}
}

// failedEverywhere returns the fan-out error only when no layer succeeded.
func failedEverywhere(rep tiercache.Report) error {
	for _, r := range rep.Results {
		if r.Err == nil {
			return nil
		}
	}
	if len(rep.Results) == 0 {
		return nil
	}
	return rep.Err()
}

func (h *handler) serve(ctx context.Context, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		return
	}
	c := command{name: string(cmd.Args[0]), args: cmd.Args[1:]}
	out := h.handle(ctx, c)
	switch {
	case out.closeConn:
		conn.WriteString(out.str)
		if err := conn.Close(); err != nil {
			h.log.WithError(err).Warn("resp: close connection")
		}
	case out.err != "":
		conn.WriteError(out.err)
	case out.writeNil:
		conn.WriteNull()
	case out.writeInt != nil:
		conn.WriteInt(*out.writeInt)
	case out.isBulk:
		conn.WriteBulk(out.bulk)
	default:
		conn.WriteString(out.str)
	}
}

// Run serves RESP on addr until ctx is done.
func Run(ctx context.Context, addr string, cache tiercache.Cache[[]byte], log *logrus.Logger) error {
	if addr == "" {
		return errors.New("resp: expected a non-empty listen address")
	}
	h, err := newHandler(cache, log)
	if err != nil {
		return err
	}

	srv := redcon.NewServerNetwork("tcp", addr,
		func(conn redcon.Conn, cmd redcon.Command) { h.serve(ctx, conn, cmd) },
		func(redcon.Conn) bool { return true },
		func(conn redcon.Conn, err error) {
			if err != nil {
				h.log.WithError(err).WithField("remote", conn.RemoteAddr()).Debug("resp: connection closed")
			}
		})

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	h.log.WithField("addr", addr).Info("resp: listening")

	select {
	case <-ctx.Done():
		if err := srv.Close(); err != nil {
			return fmt.Errorf("resp: close server: %w", err)
		}
		return nil
	case err := <-errc:
		return fmt.Errorf("resp: server stopped unexpectedly: %w", err)
	}
}
