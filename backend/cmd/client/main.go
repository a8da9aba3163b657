// Command client sends one LOGIN or REGISTER command to a session listener
// and prints the result.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/user/vitrader/backend/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "session listener address")
	register := flag.Bool("register", false, "send REGISTER instead of LOGIN")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	email := flag.String("email", "", "email (REGISTER only)")
	timeout := flag.Duration("timeout", 10*time.Second, "dial and response timeout")
	flag.Parse()

	var cmd protocol.Command = protocol.Login{Username: *username, Password: *password}
	if *register {
		cmd = protocol.Register{Username: *username, Password: *password, Email: *email}
	}

	res, err := send(*addr, cmd, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s %s\n", cmd.Tag(), res)
	if !res.OK() {
		os.Exit(2)
	}
}

func send(addr string, cmd protocol.Command, timeout time.Duration) (protocol.Result, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	if err := protocol.WriteCommand(conn, cmd); err != nil {
		return 0, fmt.Errorf("send %s: %w", cmd.Tag(), err)
	}
	res, err := protocol.ReadResult(conn)
	if err != nil {
		return 0, fmt.Errorf("read result: %w", err)
	}
	return res, nil
}
