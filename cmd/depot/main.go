package main

import (
	"bufio"
	"encoding/json"
	"errors"
	goflag "flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ssd-technologies/depot/internal/breaker"
	"github.com/ssd-technologies/depot/internal/client"
	"github.com/ssd-technologies/depot/internal/collection"
	"github.com/ssd-technologies/depot/internal/command"
	"github.com/ssd-technologies/depot/internal/config"
	"github.com/ssd-technologies/depot/internal/protocol"
	"github.com/ssd-technologies/depot/internal/transport"
)

const usage = `Usage: depot [flags] <command>

Commands:
  ping                         measure round trip to the server
  commands                     list the server's commands
  exec <name> [key=value ...]  authorize and run one command
  shell                        interactive session

Flags:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}

func run() error {
	flagSet := pflag.NewFlagSet("depot", pflag.ContinueOnError)
	configPath := flagSet.String("config", os.Getenv(config.EnvConfig), "path to YAML config file")
	serverAddr := flagSet.StringP("server", "s", "", "server address (overrides config)")
	user := flagSet.StringP("user", "u", os.Getenv("USER"), "login for exec and shell")
	flagSet.AddGoFlagSet(goflag.CommandLine)
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	_ = goflag.CommandLine.Parse(nil)

	args := flagSet.Args()
	if len(args) == 0 {
		flagSet.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.LoadClient(*configPath, os.Getenv)
	if err != nil {
		return err
	}
	if *serverAddr != "" {
		cfg.Server = *serverAddr
	}

	conn, err := transport.Dial(cfg.Server, cfg.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	c := client.New(conn, breaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown))

	switch args[0] {
	case "ping":
		return ping(c, conn.RemoteAddr())
	case "commands":
		cat, err := c.Initialize()
		if err != nil {
			return err
		}
		printCatalogue(os.Stdout, cat)
		return nil
	case "exec":
		if len(args) < 2 {
			return errors.New("usage: depot exec <name> [key=value ...]")
		}
		cmdArgs, err := parseKeyValues(args[2:])
		if err != nil {
			return err
		}
		if err := login(c, *user, nil); err != nil {
			return err
		}
		if _, err := c.Initialize(); err != nil {
			return err
		}
		return execAndPrint(c, args[1], cmdArgs)
	case "shell":
		return shell(c, conn, *user, os.Stdin)
	}
	flagSet.Usage()
	return fmt.Errorf("unknown command %q", args[0])
}

func login(c *client.Client, user string, lines *bufio.Scanner) error {
	if user == "" {
		return errors.New("no login given, use --user")
	}
	password, err := readPassword(fmt.Sprintf("Password for %s: ", user), lines)
	if err != nil {
		return err
	}
	msg, err := c.Authorize(user, password)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// readPassword prompts without echo on a terminal and otherwise reads one
// line, from lines when the shell already owns stdin.
func readPassword(prompt string, lines *bufio.Scanner) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	if lines != nil {
		return ask(lines, strings.TrimSuffix(prompt, ": "))
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func ping(c *client.Client, server string) error {
	rtt, err := c.Ping()
	if err != nil {
		return err
	}
	fmt.Printf("Pong from %s in %s\n", server, rtt)
	return nil
}

func parseKeyValues(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

func execAndPrint(c *client.Client, name string, args map[string]string) error {
	resp, err := c.Exec(name, args)
	if err != nil {
		return err
	}
	if resp.Kind == protocol.KindError {
		return errors.New(resp.Message)
	}
	fmt.Println(resp.Message)
	return nil
}

func printCatalogue(w io.Writer, cat command.Catalogue) {
	names := make([]string, 0, len(cat.Commands))
	for name := range cat.Commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		line := fmt.Sprintf("  %-22s %s", name, cat.Commands[name])
		if schema, err := cat.Schema(name); err == nil && len(schema) > 0 {
			parts := make([]string, len(schema))
			for i, a := range schema {
				parts[i] = a.Name + ":" + a.Type
			}
			line += " (" + strings.Join(parts, ", ") + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// --- Shell ---

const shellHelp = `  login            authorize as --user (or "login <name>")
  logout           drop the session token
  ping             round trip to the server
  help             list server commands
  exit             leave the shell
  <name> [k=v ...] run a server command; missing arguments are prompted for`

func shell(c *client.Client, conn *transport.Conn, user string, in io.Reader) error {
	if _, err := c.Initialize(); err != nil {
		return err
	}
	fmt.Println(`depot shell, type "help" for commands`)
	sc := bufio.NewScanner(in)
	prompt := func() bool {
		fmt.Print("> ")
		return sc.Scan()
	}
	for prompt() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Println(shellHelp)
			if cat, ok := c.Catalogue(); ok {
				printCatalogue(os.Stdout, cat)
			}
		case "ping":
			err = ping(c, conn.RemoteAddr())
		case "login":
			name := user
			if len(fields) > 1 {
				name = fields[1]
			}
			err = login(c, name, sc)
		case "logout":
			if err = c.Logout(); err == nil {
				fmt.Println("Logged out")
			}
		default:
			err = runInteractive(c, sc, fields[0], fields[1:])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return sc.Err()
}

func runInteractive(c *client.Client, sc *bufio.Scanner, name string, kvs []string) error {
	args, err := parseKeyValues(kvs)
	if err != nil {
		return err
	}
	if cat, ok := c.Catalogue(); ok {
		schema, err := cat.Schema(name)
		if err != nil {
			return fmt.Errorf("%w %q", client.ErrUnknownCommand, name)
		}
		for _, a := range schema {
			if _, ok := args[a.Name]; ok {
				continue
			}
			v, err := promptArg(sc, a)
			if err != nil {
				return err
			}
			args[a.Name] = v
		}
	}
	return execAndPrint(c, name, args)
}

func promptArg(sc *bufio.Scanner, a command.Arg) (string, error) {
	if a.Type == command.TypeVehicle {
		return promptVehicle(sc)
	}
	return ask(sc, fmt.Sprintf("%s (%s)", a.Name, a.Type))
}

func ask(sc *bufio.Scanner, label string) (string, error) {
	fmt.Printf("  %s: ", label)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(sc.Text()), nil
}

// promptVehicle asks for each field, repeating a field until its value
// parses, and returns the vehicle as JSON.
func promptVehicle(sc *bufio.Scanner) (string, error) {
	var rec collection.Record
	steps := []struct {
		label string
		set   func(string) error
	}{
		{"name", func(s string) error {
			if s == "" {
				return errors.New("name must not be empty")
			}
			rec.Name = s
			return nil
		}},
		{fmt.Sprintf("x (> %d)", collection.MinX), func(s string) error {
			x, err := strconv.ParseInt(s, 10, 64)
			if err == nil && x <= collection.MinX {
				err = fmt.Errorf("x must be greater than %d", collection.MinX)
			}
			rec.Coordinates.X = x
			return err
		}},
		{fmt.Sprintf("y (<= %d)", collection.MaxY), func(s string) error {
			y, err := strconv.ParseInt(s, 10, 64)
			if err == nil && y > collection.MaxY {
				err = fmt.Errorf("y must be at most %d", collection.MaxY)
			}
			rec.Coordinates.Y = y
			return err
		}},
		{"engine power (empty for none)", func(s string) error {
			if s == "" {
				rec.EnginePower = nil
				return nil
			}
			f, err := strconv.ParseFloat(s, 32)
			if err == nil && f <= 0 {
				err = errors.New("engine power must be positive")
			}
			p := float32(f)
			rec.EnginePower = &p
			return err
		}},
		{"capacity", func(s string) error {
			f, err := strconv.ParseFloat(s, 32)
			if err == nil && f <= 0 {
				err = errors.New("capacity must be positive")
			}
			rec.Capacity = float32(f)
			return err
		}},
		{"distance travelled", func(s string) error {
			d, err := strconv.ParseInt(s, 10, 64)
			if err == nil && d < 0 {
				err = errors.New("distance must not be negative")
			}
			rec.DistanceTravelled = d
			return err
		}},
		{"fuel type (ELECTRICITY, DIESEL, ANTIMATTER, empty for none)", func(s string) error {
			if s == "" {
				rec.FuelType = nil
				return nil
			}
			ft, err := collection.ParseFuelType(s)
			rec.FuelType = &ft
			return err
		}},
	}
	for _, step := range steps {
		for {
			v, err := ask(sc, step.label)
			if err != nil {
				return "", err
			}
			if err := step.set(v); err != nil {
				fmt.Fprintf(os.Stderr, "  %v\n", err)
				continue
			}
			break
		}
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
