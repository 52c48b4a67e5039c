// Package protocol defines the JSON wire vocabulary spoken with the
// backend proxy, plus the engine-wide error taxonomy.
//
// Every text frame is a JSON object with a "type" discriminator. The
// engine never attaches its own headers to binary frames; their meaning
// is derived from session kind and current state.
package protocol

import "encoding/json"

// Client command types (outbound text frames).
const (
	TypeInput  = "input"
	TypeResize = "resize"

	TypeListDir         = "list_dir"
	TypeDownloadFile    = "download_file"
	TypeUploadFileStart = "upload_file_start"
	TypeUploadFileEnd   = "upload_file_end"
	TypeUploadCancel    = "upload_file_cancel"
	TypeDeleteFile      = "delete_file"
	TypeDeleteDir       = "delete_dir"
	TypeCreateDir       = "create_dir"
	TypeRename          = "rename"
	TypeSetPermissions  = "set_permissions"
	TypeGetAttr         = "get_attr"
	TypeReadFile        = "read_file_content"
	TypeSaveFile        = "save_file_content"
)

// Server message types (inbound text frames).
const (
	TypeConnected     = "connected"
	TypeClosed        = "closed"
	TypeError         = "error"
	TypeSuccess       = "success"
	TypeDirList       = "dir_list"
	TypeDownloadStart = "download_start"
	TypeDownloadChunk = "download_chunk"
	TypeDownloadEnd   = "download_end"
	TypeUploadProg    = "upload_progress"
	TypeFileAttr      = "file_attr"
	TypeFileContent   = "file_content"
	TypeExecComplete  = "exec_complete"
)

// Success sentinels the backend uses to report upload completion. The
// upload path has no dedicated completion tag; these strings are part of
// the protocol contract.
const (
	UploadDoneMessage      = "file uploaded successfully"
	UploadCancelledMessage = "upload cancelled"
)

// Terminal session modes.
const (
	ModeShell = "shell"
	ModeExec  = "exec"
)

// ConnectParams is the first text frame sent after transport open. The
// file-browser variant carries only ServerID; the terminal variant fills
// in the PTY fields, and exec mode adds Command/Workdir/Shell.
type ConnectParams struct {
	ServerID uint              `json:"server_id"`
	Mode     string            `json:"mode,omitempty"`
	Term     string            `json:"term,omitempty"`
	Cols     uint32            `json:"cols,omitempty"`
	Rows     uint32            `json:"rows,omitempty"`
	Env      map[string]string `json:"env,omitempty"`

	Command     string `json:"command,omitempty"`
	Workdir     string `json:"workdir,omitempty"`
	Shell       string `json:"shell,omitempty"`
	TimeoutSecs uint64 `json:"timeout_secs,omitempty"`
}

// Defaults applied to terminal connect parameters, matching the backend.
const (
	DefaultTerm = "xterm-256color"
	DefaultCols = 80
	DefaultRows = 24
)

// Input is a terminal keystroke/paste command.
type Input struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Resize is a terminal window-change command.
type Resize struct {
	Type string `json:"type"`
	Cols uint32 `json:"cols"`
	Rows uint32 `json:"rows"`
}

// FileCommand covers every file-browser control command; unused fields
// stay empty and are omitted from the encoded frame.
type FileCommand struct {
	Type      string `json:"type"`
	Path      string `json:"path,omitempty"`
	OldPath   string `json:"old_path,omitempty"`
	NewPath   string `json:"new_path,omitempty"`
	Mode      uint32 `json:"mode,omitempty"`
	TotalSize uint64 `json:"total_size,omitempty"`
	Content   string `json:"content,omitempty"`
}

// FileEntry is one directory listing row.
type FileEntry struct {
	Name              string  `json:"name"`
	IsDir             bool    `json:"is_dir"`
	Size              uint64  `json:"size"`
	Modified          *uint64 `json:"modified,omitempty"`
	Permissions       *uint32 `json:"permissions,omitempty"`
	IsContentEditable bool    `json:"is_content_editable"`
}

// FileAttr is the reply payload for get_attr.
type FileAttr struct {
	Size        uint64  `json:"size"`
	IsDir       bool    `json:"is_dir"`
	Modified    *uint64 `json:"modified,omitempty"`
	Permissions *uint32 `json:"permissions,omitempty"`
}

// ServerMessage is the decoded form of an inbound text frame. Only the
// fields relevant to the tagged type are populated.
type ServerMessage struct {
	Type string `json:"type"`

	// error / success
	Message string `json:"message,omitempty"`

	// dir_list
	Path    string      `json:"path,omitempty"`
	Entries []FileEntry `json:"entries,omitempty"`

	// download_start / download_chunk / upload_progress
	TotalSize uint64 `json:"total_size,omitempty"`
	ChunkID   uint64 `json:"chunk_id,omitempty"`
	Size      uint64 `json:"size,omitempty"`
	Received  uint64 `json:"received,omitempty"`
	Total     uint64 `json:"total,omitempty"`

	// file_attr
	Attr *FileAttr `json:"attr,omitempty"`

	// file_content
	Content string `json:"content,omitempty"`

	// exec_complete
	ExitCode int    `json:"exit_code,omitempty"`
	Output   string `json:"output,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// Decode parses an inbound text frame. It returns ok=false when the
// payload is not a JSON object carrying a type tag; terminal sessions
// treat such frames as raw output rather than a protocol violation.
func Decode(data []byte) (ServerMessage, bool) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		return ServerMessage{}, false
	}
	return msg, true
}

// Encode marshals an outbound command. The wire vocabulary is small and
// fully under engine control, so a marshal failure is a programming
// error; it is surfaced rather than panicking to keep send paths total.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
