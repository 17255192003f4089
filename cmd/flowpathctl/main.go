// Command flowpathctl is an interactive shell for the control API: it
// lists dataplanes, inspects pool status and installs or erases flows.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
)

var serverAddr = flag.String("server", "http://localhost:8080", "control API address")

type shell struct {
	client  *http.Client
	baseURL string
	rl      *readline.Instance
	running bool
}

func newShell(baseURL string) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "flowpathctl> ",
		HistoryFile:     os.ExpandEnv("$HOME/.flowpathctl_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return &shell{
		client:  &http.Client{},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		rl:      rl,
		running: true,
	}, nil
}

func (s *shell) run() error {
	defer s.rl.Close()
	fmt.Println("flowpathctl connected to", s.baseURL)
	fmt.Println("Type 'help' for available commands, 'exit' to quit")

	for s.running {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if err == io.EOF {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := s.dispatch(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return nil
}

func (s *shell) dispatch(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "exit", "quit":
		s.running = false
		return nil
	case "help":
		s.printHelp()
		return nil
	case "dataplanes":
		return s.getJSON("/api/dataplanes")
	case "pool":
		if len(fields) != 2 {
			return fmt.Errorf("usage: pool <dataplane>")
		}
		return s.getJSON(fmt.Sprintf("/api/dataplanes/%s/pool", fields[1]))
	case "flow-install":
		if len(fields) != 5 {
			return fmt.Errorf("usage: flow-install <dataplane> <table-id> <key-hex> <port>")
		}
		return s.postFlow(fields[1], fields[2], fields[3], fields[4])
	case "flow-erase":
		if len(fields) != 4 {
			return fmt.Errorf("usage: flow-erase <dataplane> <table-id> <key-hex>")
		}
		return s.eraseFlow(fields[1], fields[2], fields[3])
	default:
		return fmt.Errorf("unknown command %q, type 'help'", fields[0])
	}
}

func (s *shell) printHelp() {
	fmt.Println(`Commands:
  dataplanes                                        list registered dataplanes
  pool <dataplane>                                  show buffer pool status
  flow-install <dataplane> <table> <key-hex> <port>  install an output-port flow
  flow-erase <dataplane> <table> <key-hex>          erase a flow
  exit                                              quit`)
}

func (s *shell) getJSON(path string) error {
	resp, err := s.client.Get(s.baseURL + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func (s *shell) postFlow(dataplane, tableID, keyHex, port string) error {
	portNum, err := strconv.ParseUint(port, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", port, err)
	}
	body, err := json.Marshal(map[string]any{"key_hex": keyHex, "port": portNum})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/dataplanes/%s/tables/%s/flows", s.baseURL, dataplane, tableID)
	resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func (s *shell) eraseFlow(dataplane, tableID, keyHex string) error {
	body, err := json.Marshal(map[string]any{"key_hex": keyHex})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/dataplanes/%s/tables/%s/flows", s.baseURL, dataplane, tableID)
	req, err := http.NewRequest(http.MethodDelete, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		fmt.Println(resp.Status)
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func main() {
	flag.Parse()

	sh, err := newShell(*serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := sh.run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
