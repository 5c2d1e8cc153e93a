// Package registrytest provides an in-memory node daemon for tests.
package registrytest

import (
	"context"
	"sync"

	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/registry"
)

// Call is one request received by a FakeDaemon
type Call struct {
	Op   string
	UUID string
	Body interface{}
}

// FakeDaemon records calls and fails the operations listed in Errors
type FakeDaemon struct {
	URL string

	mu        sync.Mutex
	calls     []Call
	errors    map[string]error
	resources *daemon.ResourceSnapshot
}

// NewFakeDaemon creates a daemon that accepts everything
func NewFakeDaemon(url string) *FakeDaemon {
	return &FakeDaemon{URL: url, errors: make(map[string]error)}
}

// Fail makes op return err; a nil err clears it
func (f *FakeDaemon) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errors, op)
		return
	}
	f.errors[op] = err
}

// SetResources sets the snapshot GetServerResources returns
func (f *FakeDaemon) SetResources(snapshot daemon.ResourceSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources = &snapshot
}

// Calls returns the calls received so far
func (f *FakeDaemon) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Ops returns the operation names received so far
func (f *FakeDaemon) Ops() []string {
	var ops []string
	for _, c := range f.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

func (f *FakeDaemon) record(op, uuid string, body interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, UUID: uuid, Body: body})
	return f.errors[op]
}

func (f *FakeDaemon) BaseURL() string { return f.URL }

func (f *FakeDaemon) SendPowerAction(_ context.Context, uuid string, action daemon.PowerAction) error {
	return f.record("power", uuid, action)
}

func (f *FakeDaemon) SendCommand(_ context.Context, uuid, command string) error {
	return f.record("command", uuid, command)
}

func (f *FakeDaemon) GetServerResources(_ context.Context, uuid string) (*daemon.ResourceSnapshot, error) {
	if err := f.record("resources", uuid, nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resources == nil {
		return &daemon.ResourceSnapshot{State: daemon.StateRunning}, nil
	}
	snapshot := *f.resources
	return &snapshot, nil
}

func (f *FakeDaemon) CreateServer(_ context.Context, cfg daemon.ServerConfig) error {
	return f.record("create_server", cfg.UUID, cfg)
}

func (f *FakeDaemon) UpdateServer(_ context.Context, uuid string, patch daemon.ServerPatch) error {
	return f.record("update_server", uuid, patch)
}

func (f *FakeDaemon) DeleteServer(_ context.Context, uuid string) error {
	return f.record("delete_server", uuid, nil)
}

func (f *FakeDaemon) ReinstallServer(_ context.Context, uuid string) error {
	return f.record("reinstall_server", uuid, nil)
}

func (f *FakeDaemon) SyncServer(_ context.Context, uuid string) error {
	return f.record("sync_server", uuid, nil)
}

func (f *FakeDaemon) TransferServer(_ context.Context, uuid string, req daemon.TransferRequest) error {
	return f.record("transfer", uuid, req)
}

func (f *FakeDaemon) ListFiles(_ context.Context, uuid, directory string) ([]daemon.FileObject, error) {
	return nil, f.record("list_files", uuid, directory)
}

func (f *FakeDaemon) GetFileContents(_ context.Context, uuid, file string, _ int64) ([]byte, error) {
	return nil, f.record("file_contents", uuid, file)
}

func (f *FakeDaemon) WriteFileContents(_ context.Context, uuid, file string, content []byte) error {
	return f.record("write_file", uuid, file)
}

func (f *FakeDaemon) CreateDirectory(_ context.Context, uuid, name, path string) error {
	return f.record("create_directory", uuid, path+"/"+name)
}

func (f *FakeDaemon) DeleteFiles(_ context.Context, uuid, _ string, files []string) error {
	return f.record("delete_files", uuid, files)
}

func (f *FakeDaemon) RenameFiles(_ context.Context, uuid, _ string, files []daemon.RenamePair) error {
	return f.record("rename_files", uuid, files)
}

func (f *FakeDaemon) CopyFile(_ context.Context, uuid, location string) error {
	return f.record("copy_file", uuid, location)
}

func (f *FakeDaemon) CompressFiles(_ context.Context, uuid, _ string, files []string) (*daemon.FileObject, error) {
	if err := f.record("compress_files", uuid, files); err != nil {
		return nil, err
	}
	return &daemon.FileObject{Name: "archive.tar.gz", IsFile: true}, nil
}

func (f *FakeDaemon) DecompressFile(_ context.Context, uuid, _, file string) error {
	return f.record("decompress_file", uuid, file)
}

func (f *FakeDaemon) ChmodFiles(_ context.Context, uuid, _ string, files []daemon.ChmodEntry) error {
	return f.record("chmod_files", uuid, files)
}

func (f *FakeDaemon) PullFile(_ context.Context, uuid string, req daemon.PullRequest) error {
	return f.record("pull_file", uuid, req)
}

func (f *FakeDaemon) GetFileDownloadURL(_ context.Context, uuid, file string) (string, error) {
	return f.URL + "/download/file", f.record("file_download_url", uuid, file)
}

func (f *FakeDaemon) GetFileUploadURL(_ context.Context, uuid string) (string, error) {
	return f.URL + "/upload/file", f.record("file_upload_url", uuid, nil)
}

func (f *FakeDaemon) CreateBackup(_ context.Context, uuid, backupUUID, _ string, _ []string) error {
	return f.record("create_backup", uuid, backupUUID)
}

func (f *FakeDaemon) DeleteBackup(_ context.Context, uuid, backupUUID string) error {
	return f.record("delete_backup", uuid, backupUUID)
}

func (f *FakeDaemon) RestoreBackup(_ context.Context, uuid, backupUUID string, req daemon.RestoreRequest) error {
	return f.record("restore_backup", uuid, req)
}

func (f *FakeDaemon) GetBackupDownloadURL(_ context.Context, uuid, backupUUID string) (string, error) {
	return f.URL + "/download/backup", f.record("backup_download_url", uuid, backupUUID)
}

func (f *FakeDaemon) ListBackups(_ context.Context, uuid string) ([]daemon.BackupDescriptor, error) {
	return nil, f.record("list_backups", uuid, nil)
}

func (f *FakeDaemon) GetWebSocketToken(_ context.Context, uuid string) (*daemon.WebSocketToken, error) {
	if err := f.record("websocket_token", uuid, nil); err != nil {
		return nil, err
	}
	return &daemon.WebSocketToken{Token: "ws-token", Socket: "wss://node/api/servers/" + uuid + "/ws"}, nil
}

func (f *FakeDaemon) GetSystemInformation(_ context.Context) (*daemon.SystemInformation, error) {
	if err := f.record("system", "", nil); err != nil {
		return nil, err
	}
	return &daemon.SystemInformation{Version: "1.11.0", Architecture: "amd64", OS: "linux", CPUCount: 8}, nil
}

var _ registry.Daemon = (*FakeDaemon)(nil)

// Fleet maps node ids to fake daemons
type Fleet struct {
	mu          sync.Mutex
	daemons     map[string]*FakeDaemon
	invalidated []string
}

// NewFleet creates an empty fleet
func NewFleet() *Fleet {
	return &Fleet{daemons: make(map[string]*FakeDaemon)}
}

// Add registers a daemon for nodeID and returns it
func (f *Fleet) Add(nodeID string) *FakeDaemon {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := NewFakeDaemon("https://" + nodeID + ":8080/api")
	f.daemons[nodeID] = d
	return d
}

// Client returns the daemon for nodeID
func (f *Fleet) Client(_ context.Context, nodeID string) (registry.Daemon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.daemons[nodeID]
	if !ok {
		return nil, errdefs.NotFound("node not found: %s", nodeID)
	}
	return d, nil
}

// Resolve returns a connection whose secret is "secret-<nodeID>"
func (f *Fleet) Resolve(_ context.Context, nodeID string) (*registry.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.daemons[nodeID]
	if !ok {
		return nil, errdefs.NotFound("node not found: %s", nodeID)
	}
	return &registry.Connection{
		NodeID:  nodeID,
		BaseURL: d.URL,
		TokenID: "token-" + nodeID,
		Token:   "secret-" + nodeID,
	}, nil
}

// ClientFor returns the daemon behind conn
func (f *Fleet) ClientFor(conn *registry.Connection) (registry.Daemon, error) {
	return f.Client(context.Background(), conn.NodeID)
}

// Invalidate records that nodeID was invalidated
func (f *Fleet) Invalidate(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, nodeID)
}

// Invalidated returns the node ids passed to Invalidate
func (f *Fleet) Invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}
