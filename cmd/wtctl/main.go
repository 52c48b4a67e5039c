// wtctl is the operator CLI for the engine daemon: inventory and
// session management, raw terminal attach, and file transfers.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/coder/websocket"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "servers":
		err = cmdServers()
	case "server-add":
		err = cmdServerAdd(args)
	case "server-import":
		err = cmdServerImport(args)
	case "sessions":
		err = cmdSessions()
	case "connect":
		err = cmdConnect(args)
	case "disconnect":
		err = cmdDisconnect(args)
	case "attach":
		err = cmdAttach(args)
	case "upload":
		err = cmdUpload(args)
	case "download":
		err = cmdDownload(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		errColor.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: wtctl <command> [args]

  servers                                list the server inventory
  server-add -name N -host H [...]       add a server
  server-import <inventory.yaml>         import servers from YAML
  sessions                               list sessions
  connect <server-id> [terminal|file_browser]
  disconnect <session-id>
  attach <session-id>                    raw terminal attach
  upload <session-id> <remote-dir> <local-file>
  download <session-id> <remote-path> [-o out]

The daemon address comes from WTCTL_ADDR (default http://127.0.0.1:8100).`)
}

func baseURL() string {
	if v := os.Getenv("WTCTL_ADDR"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:8100"
}

func wsURL(path string) string {
	u := baseURL() + path
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.Replace(u, "https://", "wss://", 1)
}

// apiJSON performs one JSON request and decodes the response into out.
func apiJSON(method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL()+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Detail string `json:"detail"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Detail == "" {
			e.Detail = resp.Status
		}
		return fmt.Errorf("%s", e.Detail)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func cmdServers() error {
	var resp struct {
		Servers []struct {
			ID       uint   `json:"id"`
			Name     string `json:"name"`
			Host     string `json:"host"`
			Port     int    `json:"port"`
			Username string `json:"username"`
		} `json:"servers"`
	}
	if err := apiJSON(http.MethodGet, "/api/v1/servers", nil, &resp); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Host", "Port", "User")
	for _, s := range resp.Servers {
		table.Append(fmt.Sprint(s.ID), s.Name, s.Host, fmt.Sprint(s.Port), s.Username)
	}
	return table.Render()
}

func cmdServerAdd(args []string) error {
	fs := flag.NewFlagSet("server-add", flag.ExitOnError)
	name := fs.String("name", "", "server name")
	host := fs.String("host", "", "host")
	port := fs.Int("port", 22, "port")
	user := fs.String("user", "", "username")
	pass := fs.String("pass", "", "password")
	fs.Parse(args)
	if *name == "" || *host == "" {
		return fmt.Errorf("-name and -host are required")
	}

	body := map[string]interface{}{
		"name": *name, "host": *host, "port": *port,
		"username": *user, "password": *pass,
	}
	var created struct {
		ID uint `json:"id"`
	}
	if err := apiJSON(http.MethodPost, "/api/v1/servers", body, &created); err != nil {
		return err
	}
	okColor.Printf("server %d created\n", created.ID)
	return nil
}

func cmdServerImport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wtctl server-import <inventory.yaml>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	resp, err := http.Post(baseURL()+"/api/v1/servers/import", "application/yaml", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("import failed: %s", msg)
	}
	var out struct {
		Imported int `json:"imported"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	okColor.Printf("imported %d servers\n", out.Imported)
	return nil
}

func cmdSessions() error {
	var resp struct {
		Sessions []struct {
			ID       string `json:"id"`
			Kind     string `json:"kind"`
			ServerID uint   `json:"server_id"`
			Status   string `json:"status"`
			Active   bool   `json:"active"`
		} `json:"sessions"`
	}
	if err := apiJSON(http.MethodGet, "/api/v1/sessions", nil, &resp); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Kind", "Server", "Status", "Active")
	for _, s := range resp.Sessions {
		active := ""
		if s.Active {
			active = "*"
		}
		table.Append(s.ID, s.Kind, fmt.Sprint(s.ServerID), s.Status, active)
	}
	return table.Render()
}

func cmdConnect(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: wtctl connect <server-id> [kind]")
	}
	var serverID uint
	if _, err := fmt.Sscan(args[0], &serverID); err != nil {
		return fmt.Errorf("invalid server id %q", args[0])
	}
	kind := "terminal"
	if len(args) > 1 {
		kind = args[1]
	}

	var created struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	body := map[string]interface{}{"server_id": serverID, "kind": kind}
	if err := apiJSON(http.MethodPost, "/api/v1/sessions", body, &created); err != nil {
		return err
	}
	okColor.Printf("%s session %s\n", created.Kind, created.ID)
	return nil
}

func cmdDisconnect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wtctl disconnect <session-id>")
	}
	if err := apiJSON(http.MethodDelete, "/api/v1/sessions/"+args[0], nil, nil); err != nil {
		return err
	}
	okColor.Println("disconnected")
	return nil
}

// cmdAttach bridges the local TTY to a terminal session: stdin goes out
// as binary keystroke frames, inbound binary frames go to stdout.
func cmdAttach(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wtctl attach <session-id>")
	}
	sessionID := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL("/api/v1/sessions/"+sessionID+"/attach"), nil)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(16 * 1024 * 1024)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)

		if cols, rows, err := term.GetSize(fd); err == nil {
			resize, _ := json.Marshal(map[string]interface{}{
				"type": "resize", "cols": cols, "rows": rows,
			})
			conn.Write(ctx, websocket.MessageText, resize)
		}
	}
	infoColor.Fprintln(os.Stderr, "attached; press Ctrl-] to detach\r")

	// Local keyboard -> session.
	go func() {
		defer cancel()
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if bytes.IndexByte(buf[:n], 0x1D) >= 0 { // Ctrl-]
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, buf[:n]); err != nil {
				return
			}
		}
	}()

	// Session output -> local terminal.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		os.Stdout.Write(data)
	}
	return nil
}

func cmdUpload(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: wtctl upload <session-id> <remote-dir> <local-file>")
	}
	sessionID, remoteDir, localFile := args[0], args[1], args[2]

	f, err := os.Open(localFile)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(localFile))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	mw.Close()

	url := fmt.Sprintf("%s/api/v1/sessions/%s/files/upload?path=%s", baseURL(), sessionID, remoteDir)
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed: %s", msg)
	}
	okColor.Printf("uploaded %s to %s\n", filepath.Base(localFile), remoteDir)
	return nil
}

func cmdDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	out := fs.String("o", "", "output file (default: remote basename)")
	if len(args) < 2 {
		return fmt.Errorf("usage: wtctl download <session-id> <remote-path> [-o out]")
	}
	sessionID, remotePath := args[0], args[1]
	fs.Parse(args[2:])

	body, err := json.Marshal(map[string]string{"path": remotePath})
	if err != nil {
		return err
	}
	resp, err := http.Post(baseURL()+"/api/v1/sessions/"+sessionID+"/files/download",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("download failed: %s", msg)
	}

	dest := *out
	if dest == "" {
		dest = filepath.Base(remotePath)
	}
	df, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer df.Close()
	n, err := io.Copy(df, resp.Body)
	if err != nil {
		return err
	}
	okColor.Printf("downloaded %d bytes to %s\n", n, dest)
	return nil
}
