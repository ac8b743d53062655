package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"morada/internal/agent/domain"
	"morada/internal/utils/id"
)

// MemoryStore is an in-process Store implementation used by tests and by
// NewDefaultConfig() when no Postgres DSN is configured. It preserves the
// same user-scoping and single-active-item invariants the pgx-backed
// implementation enforces.
type MemoryStore struct {
	mu           sync.Mutex
	profiles     map[string]*Profile
	properties   map[string]Property // keyed by external id
	portfolio    map[string]PortfolioItem
	analyses     map[string]Analysis
	roomFeatures map[string][]RoomFeatures
	conversations map[string]int
	conversationUser   map[string]string
	lastSessionSummary map[string]string
	messages           map[string][]StoredMessage
	actionLog          []domain.ActionLogEntry
}

// StoredMessage is one persisted chat message, kept by the in-memory
// store so tests can assert on the persisted sequence.
type StoredMessage struct {
	Role       string
	Content    string
	ToolCallID string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]*Profile),
		properties:    make(map[string]Property),
		portfolio:     make(map[string]PortfolioItem),
		analyses:      make(map[string]Analysis),
		roomFeatures:  make(map[string][]RoomFeatures),
		conversations: make(map[string]int),
		conversationUser:   make(map[string]string),
		lastSessionSummary: make(map[string]string),
		messages:           make(map[string][]StoredMessage),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[userID], nil
}

func (m *MemoryStore) UpsertProfile(_ context.Context, userID string, section ProfileSection, patch map[string]any, summaries map[ProfileSection]string, masterSummary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = &Profile{UserID: userID, SectionSummary: map[ProfileSection]string{}, SectionContent: map[ProfileSection]string{}}
		m.profiles[userID] = p
	}
	if masterSummary != "" {
		p.MasterSummary = masterSummary
	}
	for sec, summary := range summaries {
		p.SectionSummary[sec] = summary
	}
	if patch != nil {
		p.SectionContent[section] = fmt.Sprintf("%v", patch)
	}
	return nil
}

func (m *MemoryStore) Hydrate(ctx context.Context, userID string) (*HydrateResult, error) {
	m.mu.Lock()
	profile := m.profiles[userID]
	m.mu.Unlock()
	if profile == nil {
		if err := m.UpsertProfile(ctx, userID, "", nil, nil, "New user, no profile yet."); err != nil {
			return nil, err
		}
		m.mu.Lock()
		profile = m.profiles[userID]
		m.mu.Unlock()
	}
	items, err := m.ListPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := make([]PortfolioItem, 0, len(items))
	for _, it := range items {
		if !it.Archived {
			active = append(active, it)
		}
	}
	m.mu.Lock()
	lastSummary := m.lastSessionSummary[userID]
	m.mu.Unlock()
	return &HydrateResult{Profile: profile, ActivePortfolioItems: active, LastSessionSummary: lastSummary}, nil
}

func (m *MemoryStore) GetPropertyByExternalID(_ context.Context, externalID string) (*Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.properties[externalID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *MemoryStore) UpsertProperty(_ context.Context, p Property) (Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = id.NewPropertyID()
	}
	m.properties[p.ExternalID] = p
	return p, nil
}

func (m *MemoryStore) GetPortfolioItem(_ context.Context, userID, itemID string) (*PortfolioItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.portfolio[itemID]; ok && it.UserID == userID {
		return &it, nil
	}
	return nil, nil
}

func (m *MemoryStore) ListPortfolio(_ context.Context, userID string) ([]PortfolioItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PortfolioItem, 0)
	for _, it := range m.portfolio {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreatePortfolioItem(_ context.Context, item PortfolioItem) (PortfolioItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = id.NewPortfolioItemID()
	}
	item.LastActiveAt = time.Now()
	m.portfolio[item.ID] = item
	return item, nil
}

func (m *MemoryStore) UpdatePortfolioItem(_ context.Context, item PortfolioItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.portfolio[item.ID]; !ok {
		return fmt.Errorf("store: portfolio item %q not found", item.ID)
	}
	m.portfolio[item.ID] = item
	return nil
}

// SetActive atomically unsets any previously-active item for userID and
// activates itemID, so at most one item is ever active per user.
func (m *MemoryStore) SetActive(_ context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.portfolio[itemID]
	if !ok || target.UserID != userID {
		return fmt.Errorf("store: portfolio item %q not found for user", itemID)
	}
	for k, it := range m.portfolio {
		if it.UserID == userID && it.IsActive {
			it.IsActive = false
			m.portfolio[k] = it
		}
	}
	target.IsActive = true
	target.LastActiveAt = time.Now()
	m.portfolio[itemID] = target
	return nil
}

func (m *MemoryStore) GetLatestAnalysis(_ context.Context, userID, propertyID string, kind AnalysisType) (*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + propertyID + "|" + string(kind)
	if a, ok := m.analyses[key]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *MemoryStore) CreateAnalysis(_ context.Context, a Analysis) (Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = id.NewAnalysisID()
	}
	key := a.UserID + "|" + a.PropertyID + "|" + string(a.Type)
	m.analyses[key] = a
	return a, nil
}

func (m *MemoryStore) UpdateAnalysis(_ context.Context, a Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := a.UserID + "|" + a.PropertyID + "|" + string(a.Type)
	m.analyses[key] = a
	return nil
}

func (m *MemoryStore) GetRoomFeatures(_ context.Context, propertyID string) ([]RoomFeatures, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomFeatures[propertyID], nil
}

func (m *MemoryStore) SaveRoomFeatures(_ context.Context, propertyID string, features []RoomFeatures) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomFeatures[propertyID] = features
	return nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	convID := id.NewConversationID()
	m.conversations[convID] = 0
	m.conversationUser[convID] = userID
	return convID, nil
}

// EndConversation records summary as the given user's most recent
// session narrative, read back by the next Hydrate call.
func (m *MemoryStore) EndConversation(_ context.Context, conversationID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID, ok := m.conversationUser[conversationID]; ok {
		m.lastSessionSummary[userID] = summary
	}
	return nil
}

func (m *MemoryStore) IncrementMessageCount(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conversationID]++
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, conversationID, role, content string, toolCalls []map[string]any, toolCallID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[conversationID] = append(m.messages[conversationID], StoredMessage{Role: role, Content: content, ToolCallID: toolCallID})
	return nil
}

// Messages returns the persisted messages for a conversation, for tests.
func (m *MemoryStore) Messages(conversationID string) []StoredMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredMessage, len(m.messages[conversationID]))
	copy(out, m.messages[conversationID])
	return out
}

func (m *MemoryStore) LogAction(_ context.Context, entry domain.ActionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionLog = append(m.actionLog, entry)
	return nil
}

// ActionLog returns a copy of the logged actions, for tests.
func (m *MemoryStore) ActionLog() []domain.ActionLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ActionLogEntry, len(m.actionLog))
	copy(out, m.actionLog)
	return out
}
