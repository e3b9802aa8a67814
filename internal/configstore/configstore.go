// Package configstore owns the persisted agent state file: the authorized
// principal, the active chat provider and coding adapter, per-adapter model
// overrides, and MCP server entries. All writers go through Update so
// concurrent mutations from different components cannot clobber each other.
package configstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/ashita-ai/hashi/internal/mcp"
)

var (
	// ErrDuplicateKey is returned when the file repeats an object key.
	ErrDuplicateKey = errors.New("configstore: duplicate key")
	// ErrInvalid is returned when the decoded file fails validation.
	ErrInvalid = errors.New("configstore: invalid config")
)

// ProviderSettings configures one chat-completion provider.
type ProviderSettings struct {
	Model  string `json:"model,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
}

// MCPServerEntry is one configured MCP server.
type MCPServerEntry struct {
	ID        string            `json:"id"`
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
}

// ServerConfig converts the entry to a bridge connection config.
func (e MCPServerEntry) ServerConfig() mcp.ServerConfig {
	return mcp.ServerConfig{
		ID:        e.ID,
		Transport: e.Transport,
		Command:   e.Command,
		Args:      slices.Clone(e.Args),
		Env:       maps.Clone(e.Env),
		URL:       e.URL,
		Headers:   maps.Clone(e.Headers),
	}
}

// File is the on-disk document.
type File struct {
	AuthorizedUser string                      `json:"authorizedUser,omitempty"`
	AIProvider     string                      `json:"aiProvider,omitempty"`
	AIModel        string                      `json:"aiModel,omitempty"`
	Providers      map[string]ProviderSettings `json:"providers,omitempty"`
	IDEType        string                      `json:"ideType,omitempty"`
	AdapterModels  map[string]string           `json:"adapterModels,omitempty"`
	MCPServers     []MCPServerEntry            `json:"mcpServers,omitempty"`
	ProjectPath    string                      `json:"projectPath,omitempty"`

	// extra holds top-level keys this version does not know. They are kept
	// verbatim so a rewrite does not drop settings written by other tools.
	extra map[string]json.RawMessage
}

// UnknownKeys returns the sorted top-level keys that were ignored on decode.
func (f File) UnknownKeys() []string {
	return slices.Sorted(maps.Keys(f.extra))
}

// Clone returns a deep copy.
func (f File) Clone() File {
	out := f
	out.Providers = maps.Clone(f.Providers)
	out.AdapterModels = maps.Clone(f.AdapterModels)
	out.extra = maps.Clone(f.extra)
	if f.MCPServers != nil {
		out.MCPServers = make([]MCPServerEntry, len(f.MCPServers))
		for i, s := range f.MCPServers {
			s.Args = slices.Clone(s.Args)
			s.Env = maps.Clone(s.Env)
			s.Headers = maps.Clone(s.Headers)
			out.MCPServers[i] = s
		}
	}
	return out
}

// Validate checks the MCP server entries. Ids must be unique and non-empty,
// and each transport needs its own connection fields.
func (f File) Validate() error {
	seen := make(map[string]bool, len(f.MCPServers))
	for i, s := range f.MCPServers {
		if err := s.ServerConfig().Validate(); err != nil {
			return fmt.Errorf("%w: mcpServers[%d]: %v", ErrInvalid, i, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: mcpServers[%d]: duplicate id %q", ErrInvalid, i, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Store reads and writes the config file. Safe for concurrent use; a file
// lock additionally serializes writers in other processes.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store for the file at path. The file need not exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns the current contents. A missing file yields a zero File.
func (s *Store) Load() (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update applies mutate to a freshly read copy of the file and writes the
// result atomically. If mutate returns an error nothing is written.
func (s *Store) Update(mutate func(*File) error) (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return File{}, fmt.Errorf("configstore: create dir: %w", err)
	}
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return File{}, fmt.Errorf("configstore: lock: %w", err)
	}
	defer unlock()

	f, err := s.read()
	if err != nil {
		return File{}, err
	}
	if err := mutate(&f); err != nil {
		return File{}, err
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	if err := s.write(f); err != nil {
		return File{}, err
	}
	return f.Clone(), nil
}

// ResetAuthorization clears the authorized principal so the next inbound
// sender claims it.
func (s *Store) ResetAuthorization() error {
	_, err := s.Update(func(f *File) error {
		f.AuthorizedUser = ""
		return nil
	})
	return err
}

func (s *Store) read() (File, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("configstore: read: %w", err)
	}
	return Decode(data)
}

func (s *Store) write(f File) error {
	data, err := encode(f)
	if err != nil {
		return fmt.Errorf("configstore: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("configstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("configstore: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("configstore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("configstore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("configstore: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("configstore: rename: %w", err)
	}
	return nil
}

// Decode parses a config document, rejecting duplicate keys at any depth.
// Unknown top-level keys are set aside (see File.UnknownKeys); unknown
// fields inside known sections are rejected.
func Decode(data []byte) (File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return File{}, nil
	}
	if err := checkDuplicateKeys(data); err != nil {
		return File{}, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var extra map[string]json.RawMessage
	for k, v := range top {
		if knownKeys[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
		delete(top, k)
	}
	if extra != nil {
		var err error
		if data, err = json.Marshal(top); err != nil {
			return File{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var f File
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	f.extra = extra
	return f, nil
}

// knownKeys are the top-level json names of File.
var knownKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeFor[File]()
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" {
			name = field.Name
		}
		keys[name] = true
	}
	return keys
}()

// encode renders f as indented JSON, merging back any preserved unknown keys.
func encode(f File) ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	if len(f.extra) > 0 {
		var merged map[string]json.RawMessage
		if err := json.Unmarshal(data, &merged); err != nil {
			return nil, err
		}
		for k, v := range f.extra {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
		if data, err = json.MarshalIndent(merged, "", "  "); err != nil {
			return nil, err
		}
	}
	return append(data, '\n'), nil
}

func checkDuplicateKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := walkValue(dec, "$"); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after document", ErrInvalid)
	}
	return nil
}

func walkValue(dec *json.Decoder, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		keys := make(map[string]bool)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := kt.(string)
			child := path + "." + key
			if keys[key] {
				return fmt.Errorf("%w: %s", ErrDuplicateKey, child)
			}
			keys[key] = true
			if err := walkValue(dec, child); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; dec.More(); i++ {
			if err := walkValue(dec, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	_, err = dec.Token() // closing delimiter
	return err
}
