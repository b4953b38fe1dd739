// cabinet-shell is an interactive REPL client for a running cabinetd,
// grounded on peterh/liner for line editing and history — the same
// kind of interactive-shell dependency the rest of the retrieval pack
// reaches for rather than hand-rolling readline support over bufio.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/peterh/liner"
)

const historyFile = ".cabinet-shell-history"

func main() {
	addr := "http://127.0.0.1:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Printf("cabinet-shell connected to %s — commands: get/set/delete/flush/compact/info/drop/list db key [value]\n", addr)

	for {
		text, err := line.Prompt("cabinet> ")
		if err != nil {
			if err != io.EOF {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		line.AppendHistory(text)

		if err := dispatch(addr, text); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func dispatch(addr, text string) error {
	fields := strings.Fields(text)
	cmd := fields[0]

	if cmd == "list" {
		return doRequest(http.MethodGet, addr+"/dbs", nil)
	}
	if len(fields) < 2 {
		return fmt.Errorf("usage: %s <db> [key] [value]", cmd)
	}
	db := fields[1]

	switch cmd {
	case "info":
		return doRequest(http.MethodGet, fmt.Sprintf("%s/db/%s/info", addr, db), nil)
	case "flush":
		return doRequest(http.MethodPost, fmt.Sprintf("%s/db/%s/flush", addr, db), nil)
	case "compact":
		return doRequest(http.MethodPost, fmt.Sprintf("%s/db/%s/compact", addr, db), nil)
	case "drop":
		return doRequest(http.MethodPost, fmt.Sprintf("%s/db/%s/drop", addr, db), nil)
	case "get", "delete":
		if len(fields) < 3 {
			return fmt.Errorf("usage: %s <db> <key>", cmd)
		}
		body, _ := json.Marshal(map[string]string{"key": fields[2]})
		return doRequest(http.MethodPost, fmt.Sprintf("%s/db/%s/%s", addr, db, cmd), body)
	case "set":
		if len(fields) < 4 {
			return fmt.Errorf("usage: set <db> <key> <value>")
		}
		body, _ := json.Marshal(map[string]any{"key": fields[2], "value": []byte(strings.Join(fields[3:], " "))})
		return doRequest(http.MethodPost, fmt.Sprintf("%s/db/%s/set", addr, db), body)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func doRequest(method, url string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		fmt.Println(string(out))
	} else {
		fmt.Println(resp.Status)
	}
	return nil
}
