package memcachedb

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeItem is a record held by fakeServer.
type fakeItem struct {
	value      []byte
	flags      uint32
	expiration int64
}

// fakeServer answers the memcached text commands used by the Adapter.
type fakeServer struct {
	ln    net.Listener
	mut   sync.Mutex
	items map[string]fakeItem
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if nil != err {
		t.Fatalf("failed net.Listen, got error %v", err)
	}
	srv := &fakeServer{ln: ln, items: make(map[string]fakeItem)}
	go srv.serve()
	t.Cleanup(srv.Close)

	return srv
}

func (self *fakeServer) Addr() string {
	return self.ln.Addr().String()
}

func (self *fakeServer) Close() {
	self.ln.Close()
}

func (self *fakeServer) item(key string) (fakeItem, bool) {
	self.mut.Lock()
	defer self.mut.Unlock()
	it, found := self.items[key]
	return it, found
}

func (self *fakeServer) serve() {
	for {
		conn, err := self.ln.Accept()
		if nil != err {
			return
		}
		go self.handle(conn)
	}
}

func (self *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	for {
		line, err := rw.ReadString('\n')
		if nil != err {
			return
		}
		fields := strings.Fields(line)
		if 0 == len(fields) {
			fmt.Fprint(rw, "ERROR\r\n")
			rw.Flush()
			continue
		}

		switch fields[0] {
		case "get", "gets":
			self.mut.Lock()
			for _, key := range fields[1:] {
				if it, found := self.items[key]; found {
					fmt.Fprintf(rw, "VALUE %s %d %d 1\r\n", key, it.flags, len(it.value))
					rw.Write(it.value)
					fmt.Fprint(rw, "\r\n")
				}
			}
			self.mut.Unlock()
			fmt.Fprint(rw, "END\r\n")

		case "set":
			// set <key> <flags> <exptime> <bytes>
			if 5 != len(fields) {
				fmt.Fprint(rw, "CLIENT_ERROR bad command line format\r\n")
				break
			}
			flags, _ := strconv.ParseUint(fields[2], 10, 32)
			exp, _ := strconv.ParseInt(fields[3], 10, 64)
			size, err := strconv.Atoi(fields[4])
			if nil != err {
				fmt.Fprint(rw, "CLIENT_ERROR bad data chunk\r\n")
				break
			}
			data := make([]byte, size+2)
			if _, err := io.ReadFull(rw, data); nil != err {
				return
			}
			self.mut.Lock()
			self.items[fields[1]] = fakeItem{value: data[:size], flags: uint32(flags), expiration: exp}
			self.mut.Unlock()
			fmt.Fprint(rw, "STORED\r\n")

		case "delete":
			self.mut.Lock()
			_, found := self.items[fields[1]]
			delete(self.items, fields[1])
			self.mut.Unlock()
			if found {
				fmt.Fprint(rw, "DELETED\r\n")
			} else {
				fmt.Fprint(rw, "NOT_FOUND\r\n")
			}

		case "version":
			fmt.Fprint(rw, "VERSION 1.6.0\r\n")

		default:
			fmt.Fprint(rw, "ERROR\r\n")
		}
		rw.Flush()
	}
}
