package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"wabot/internal/llm"
)

// Message is a single message in a session. Sender is set for group chat
// turns so the history keeps who said what.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Sender    string `json:"sender,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Session holds conversation history for a channel:chat_id pair.
type Session struct {
	Key       string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AddMessage appends a message to the session.
func (s *Session) AddMessage(role, content string) {
	s.AddFrom(role, "", content)
}

// AddFrom appends a message with an explicit sender name.
func (s *Session) AddFrom(role, sender, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	s.UpdatedAt = time.Now()
}

// History returns the last maxMessages in provider format. Group turns are
// prefixed with the sender's name so the model can follow the room.
func (s *Session) History(maxMessages int) []llm.Message {
	msgs := s.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	history := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		content := m.Content
		if m.Sender != "" && m.Role == "user" {
			content = m.Sender + ": " + content
		}
		history[i] = llm.Message{Role: m.Role, Content: content}
	}
	return history
}

// Clear removes all messages.
func (s *Session) Clear() {
	s.Messages = nil
	s.UpdatedAt = time.Now()
}

// Manager manages conversation sessions with JSONL persistence. One file per
// session under the sessions directory.
type Manager struct {
	sessionsDir string
	cache       map[string]*Session
	mu          sync.Mutex
}

// NewManager creates a session manager rooted at the default data directory.
func NewManager() *Manager {
	return NewManagerAt(filepath.Join(homeDir(), ".wabot", "sessions"))
}

// NewManagerAt creates a session manager rooted at dir.
func NewManagerAt(dir string) *Manager {
	os.MkdirAll(dir, 0o755)
	return &Manager{
		sessionsDir: dir,
		cache:       make(map[string]*Session),
	}
}

// GetOrCreate returns an existing session or creates a new one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s
	}

	s := m.load(key)
	if s == nil {
		s = &Session{
			Key:       key,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
	}
	m.cache[key] = s
	return s
}

// Save persists a session to disk.
func (m *Manager) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[s.Key] = s
	path := m.sessionPath(s.Key)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer f.Close()

	meta := map[string]any{
		"_type":      "metadata",
		"created_at": s.CreatedAt.Format(time.RFC3339),
		"updated_at": s.UpdatedAt.Format(time.RFC3339),
	}
	metaJSON, _ := json.Marshal(meta)
	f.Write(metaJSON)
	f.WriteString("\n")

	for _, msg := range s.Messages {
		line, _ := json.Marshal(msg)
		f.Write(line)
		f.WriteString("\n")
	}

	return nil
}

// Delete removes a session from cache and disk.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, key)
	if err := os.Remove(m.sessionPath(key)); err != nil {
		return false
	}
	return true
}

// Info describes one stored session.
type Info struct {
	Key       string
	UpdatedAt time.Time
}

// List returns all stored sessions, newest first.
func (m *Manager) List() []Info {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return nil
	}

	var sessions []Info
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		f, err := os.Open(filepath.Join(m.sessionsDir, e.Name()))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		if scanner.Scan() {
			var meta map[string]any
			if json.Unmarshal([]byte(scanner.Text()), &meta) == nil && meta["_type"] == "metadata" {
				key := strings.TrimSuffix(e.Name(), ".jsonl")
				key = strings.ReplaceAll(key, "_", ":")
				var updated time.Time
				if ts, ok := meta["updated_at"].(string); ok {
					updated, _ = time.Parse(time.RFC3339, ts)
				}
				sessions = append(sessions, Info{Key: key, UpdatedAt: updated})
			}
		}
		f.Close()
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions
}

func (m *Manager) load(key string) *Session {
	f, err := os.Open(m.sessionPath(key))
	if err != nil {
		return nil
	}
	defer f.Close()

	var messages []Message
	var createdAt, updatedAt time.Time

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		if raw["_type"] == "metadata" {
			if ts, ok := raw["created_at"].(string); ok {
				createdAt, _ = time.Parse(time.RFC3339, ts)
			}
			if ts, ok := raw["updated_at"].(string); ok {
				updatedAt, _ = time.Parse(time.RFC3339, ts)
			}
		} else {
			var msg Message
			if json.Unmarshal([]byte(line), &msg) == nil {
				messages = append(messages, msg)
			}
		}
	}

	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	return &Session{
		Key:       key,
		Messages:  messages,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

func (m *Manager) sessionPath(key string) string {
	safe := strings.ReplaceAll(key, ":", "_")
	return filepath.Join(m.sessionsDir, safeFilename(safe)+".jsonl")
}

func safeFilename(name string) string {
	unsafe := `<>:"/\|?*`
	for _, c := range unsafe {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	return strings.TrimSpace(name)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return home
}
