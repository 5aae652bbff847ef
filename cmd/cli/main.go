// Command miniredis-cli is a small interactive-free client for exercising
// a running server from a shell or a script.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/real-staging-ai/miniredis/client"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 6379, "server port")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	addr := fmt.Sprintf("%s:%d", *host, *port)
	ctx := context.Background()

	c, err := client.Dial(ctx, addr, client.Options{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	cmd, rest := args[0], args[1:]
	if err := dispatch(ctx, c, cmd, rest); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: miniredis-cli [--host H] [--port P] <command> [args...]

commands:
  ping [message]
  get <key>
  set [--expires <ms>] <key> <value>
  del <key> [key...]
  publish <channel> <payload>
  subscribe <channel> [channel...]`)
}

func dispatch(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "ping":
		msg := ""
		if len(args) > 0 {
			msg = args[0]
		}
		reply, err := c.Ping(ctx, msg)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get requires exactly one key")
		}
		v, ok, err := c.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(nil)")
			return nil
		}
		fmt.Println(string(v))
		return nil

	case "set":
		return runSet(ctx, c, args)

	case "del":
		if len(args) == 0 {
			return fmt.Errorf("del requires at least one key")
		}
		n, err := c.Del(ctx, args...)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil

	case "publish":
		if len(args) != 2 {
			return fmt.Errorf("publish requires a channel and a payload")
		}
		n, err := c.Publish(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil

	case "subscribe":
		if len(args) == 0 {
			return fmt.Errorf("subscribe requires at least one channel")
		}
		return runSubscribe(ctx, c, args)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runSet(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	expires := fs.Int64("expires", 0, "expiration in milliseconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("set requires a key and a value")
	}
	var expire time.Duration
	if *expires > 0 {
		expire = time.Duration(*expires) * time.Millisecond
	}
	if err := c.Set(ctx, rest[0], rest[1], expire); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func runSubscribe(ctx context.Context, c *client.Client, channels []string) error {
	sub, err := c.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer sub.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for msg := range sub.Msgs() {
		fmt.Fprintf(out, "%s: %s\n", msg.Channel, msg.Payload)
		out.Flush()
	}
	return nil
}
