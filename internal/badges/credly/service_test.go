package credly

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"credentials/internal/badges/models"
	badgeservice "credentials/internal/badges/service"
	badgestore "credentials/internal/badges/store"
	credmodels "credentials/internal/credentials/models"
	credservice "credentials/internal/credentials/service"
	credstore "credentials/internal/credentials/store"
	"credentials/internal/events"
	"credentials/internal/platform/logger"
	dErrors "credentials/pkg/domain-errors"
)

// fakeCredly serves the subset of the Credly API the client calls.
type fakeCredly struct {
	mu        sync.Mutex
	apiKey    string
	templates []BadgeTemplate
	events    map[uuid.UUID]Event
	server    *httptest.Server
}

func newFakeCredly(apiKey string) *fakeCredly {
	f := &fakeCredly{apiKey: apiKey, events: map[uuid.UUID]Event{}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, _, ok := r.BasicAuth(); !ok || user != f.apiKey {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/organizations/{org}", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, Organization{ID: uuid.MustParse(chi.URLParam(r, "org")), Name: "Acme Academy"}, "")
	})
	r.Get("/organizations/{org}/badge_templates", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeData(w, f.templates, "")
	})
	r.Get("/organizations/{org}/events/{event}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ev, ok := f.events[uuid.MustParse(chi.URLParam(r, "event"))]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeData(w, ev, "")
	})
	f.server = httptest.NewServer(r)
	return f
}

func (f *fakeCredly) addEvent(eventType string, tmpl BadgeTemplate) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.events[id] = Event{ID: id, EventType: eventType, BadgeTemplate: &tmpl}
	return id
}

type CredlySuite struct {
	suite.Suite
	fake    *fakeCredly
	store   *badgestore.InMemoryStore
	badges  *badgeservice.Service
	service *Service
	router  chi.Router
	orgID   uuid.UUID
}

func TestCredlySuite(t *testing.T) {
	suite.Run(t, new(CredlySuite))
}

func (s *CredlySuite) SetupTest() {
	s.fake = newFakeCredly("org-key")
	s.store = badgestore.NewInMemoryStore()

	creds := credservice.NewService(credstore.NewInMemoryStore(), events.NewDispatcher[credmodels.StatusChange]())
	badges, err := badgeservice.New(s.store, creds, []string{"org.openedx.learning.course.passing.status.updated.v1"},
		badgeservice.WithLogger(logger.Discard()))
	s.Require().NoError(err)
	s.badges = badges

	client := NewClient(s.fake.server.URL, time.Second, WithMaxElapsed(100*time.Millisecond))
	s.service = NewService(client, s.store, badges, WithLogger(logger.Discard()))

	s.orgID = uuid.New()
	_, err = s.service.RegisterOrganization(context.Background(), s.orgID, "org-key")
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	NewHandler(s.service, logger.Discard()).Register(s.router)
}

func (s *CredlySuite) TearDownTest() {
	s.fake.server.Close()
}

func (s *CredlySuite) postWebhook(orgID uuid.UUID, eventID uuid.UUID, eventType string) int {
	body, err := json.Marshal(WebhookEvent{ID: eventID, OrganizationID: orgID, EventType: eventType})
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, "/credly-badges/api/webhook/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec.Code
}

func (s *CredlySuite) TestRegisterOrganization_RejectsBadKey() {
	_, err := s.service.RegisterOrganization(context.Background(), uuid.New(), "wrong-key")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *CredlySuite) TestRegisterOrganization_StoresRemoteName() {
	org, err := s.store.FindOrganization(context.Background(), s.orgID)
	s.Require().NoError(err)
	s.Equal("Acme Academy", org.Name)
	s.Equal("org-key", org.APIKey)
}

func (s *CredlySuite) TestSyncTemplates() {
	active, draft := uuid.New(), uuid.New()
	s.fake.templates = []BadgeTemplate{
		{ID: active, Name: "Go Expert", State: "active", ImageURL: "https://img.example/go.png"},
		{ID: draft, Name: "Draft badge", State: "draft"},
	}

	n, err := s.service.SyncTemplates(context.Background(), s.orgID)
	s.Require().NoError(err)
	s.Equal(2, n)

	t, err := s.badges.FindTemplateByExternalID(context.Background(), active)
	s.Require().NoError(err)
	s.Equal(models.OriginCredly, t.Origin)
	s.Equal(models.TemplateActive, t.State)
	s.False(t.IsActive, "synced templates wait for local activation")
	s.Equal("https://img.example/go.png", t.IconURL)
	s.Require().NotNil(t.OrganizationID)
	s.Equal(s.orgID, *t.OrganizationID)

	// A second sync refreshes instead of duplicating.
	s.fake.templates[0].Name = "Go Master"
	_, err = s.service.SyncTemplates(context.Background(), s.orgID)
	s.Require().NoError(err)
	all, err := s.badges.ListTemplates(context.Background())
	s.Require().NoError(err)
	s.Len(all, 2)
	t, err = s.badges.FindTemplateByExternalID(context.Background(), active)
	s.Require().NoError(err)
	s.Equal("Go Master", t.Name)
}

func (s *CredlySuite) TestSyncTemplates_UnknownOrganization() {
	_, err := s.service.SyncTemplates(context.Background(), uuid.New())
	s.Require().ErrorIs(err, ErrUnknownOrganization)
}

func (s *CredlySuite) TestWebhook_CreatedThenChanged() {
	externalID := uuid.New()
	created := s.fake.addEvent(EventTemplateCreated, BadgeTemplate{ID: externalID, Name: "Cloud", State: "draft"})
	s.Equal(http.StatusNoContent, s.postWebhook(s.orgID, created, EventTemplateCreated))

	t, err := s.badges.FindTemplateByExternalID(context.Background(), externalID)
	s.Require().NoError(err)
	s.Equal("Cloud", t.Name)

	changed := s.fake.addEvent(EventTemplateChanged, BadgeTemplate{ID: externalID, Name: "Cloud Native", State: "active"})
	s.Equal(http.StatusNoContent, s.postWebhook(s.orgID, changed, EventTemplateChanged))

	t, err = s.badges.FindTemplateByExternalID(context.Background(), externalID)
	s.Require().NoError(err)
	s.Equal("Cloud Native", t.Name)
	s.Equal(models.TemplateActive, t.State)
}

func (s *CredlySuite) TestWebhook_Deleted() {
	externalID := uuid.New()
	created := s.fake.addEvent(EventTemplateCreated, BadgeTemplate{ID: externalID, Name: "Temp", State: "draft"})
	s.Require().Equal(http.StatusNoContent, s.postWebhook(s.orgID, created, EventTemplateCreated))

	deleted := s.fake.addEvent(EventTemplateDeleted, BadgeTemplate{ID: externalID})
	s.Equal(http.StatusNoContent, s.postWebhook(s.orgID, deleted, EventTemplateDeleted))

	_, err := s.badges.FindTemplateByExternalID(context.Background(), externalID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *CredlySuite) TestWebhook_InlineTemplate() {
	externalID := uuid.New()
	body, err := json.Marshal(WebhookEvent{
		ID:             uuid.New(),
		OrganizationID: s.orgID,
		EventType:      EventTemplateCreated,
		Data:           &WebhookData{BadgeTemplate: &BadgeTemplate{ID: externalID, Name: "Inline", State: "active"}},
	})
	s.Require().NoError(err)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/credly-badges/api/webhook/", bytes.NewReader(body)))
	s.Equal(http.StatusNoContent, rec.Code)

	t, err := s.badges.FindTemplateByExternalID(context.Background(), externalID)
	s.Require().NoError(err)
	s.Equal("Inline", t.Name)
}

func (s *CredlySuite) TestWebhook_UnknownOrganizationIs404() {
	s.Equal(http.StatusNotFound, s.postWebhook(uuid.New(), uuid.New(), EventTemplateCreated))
}

func (s *CredlySuite) TestWebhook_UnknownEventTypeIgnored() {
	s.Equal(http.StatusNoContent, s.postWebhook(s.orgID, uuid.New(), "badge.issued"))
	all, err := s.badges.ListTemplates(context.Background())
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *CredlySuite) TestWebhook_FailuresStillAcknowledged() {
	// The event is unknown to the API, so applying it fails.
	s.Equal(http.StatusNoContent, s.postWebhook(s.orgID, uuid.New(), EventTemplateChanged))
}
