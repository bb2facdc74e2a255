package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	credmodels "credentials/internal/credentials/models"
	credservice "credentials/internal/credentials/service"
	credstore "credentials/internal/credentials/store"
	"credentials/internal/platform/logger"
	"credentials/internal/verifiable/models"
	vcservice "credentials/internal/verifiable/service"
	"credentials/internal/verifiable/signer"
	"credentials/internal/verifiable/statuslist"
	"credentials/internal/verifiable/storages"
	"credentials/internal/verifiable/store"
)

const (
	issuerID = "did:key:z6MkpTHR8VNsBxYAAWHut2Geadd9jSwuBV8xRoAnwWsdvktH"
	holder   = "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"
)

type HandlerSuite struct {
	suite.Suite
	router      chi.Router
	credentials *credservice.Service
	publisher   *statuslist.FilePublisher
	service     *vcservice.Service
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.credentials = credservice.NewService(credstore.NewInMemoryStore(), nil, credservice.WithLogger(logger.Discard()))
	registry, err := storages.NewRegistry([]string{storages.LCWallet, storages.WebWallet})
	s.Require().NoError(err)
	s.service, err = vcservice.NewService(store.NewInMemoryStore(), s.credentials, registry, signer.NewLocal(), vcservice.Config{
		DefaultIssuer:    models.IssuanceConfiguration{IssuerID: issuerID, IssuerKey: "key", IssuerName: "Open University"},
		PublicBaseURL:    "https://credentials.example.com",
		StatusListLength: 1024,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.service.EnsureDefaultIssuer(context.Background()))

	s.publisher = statuslist.NewFilePublisher(s.T().TempDir())
	s.router = chi.NewRouter()
	New(s.service, s.publisher, logger.Discard()).Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) credentialID() string {
	change, err := s.credentials.Apply(context.Background(), "alice",
		credmodels.Reference{Kind: credmodels.KindProgram, ID: uuid.NewString()},
		credmodels.StatusAwarded, credmodels.Descriptor{Title: "Data Science"})
	s.Require().NoError(err)
	return change.Credential.ID.String()
}

func decode[T any](s *HandlerSuite, rec *httptest.ResponseRecorder) T {
	var out T
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *HandlerSuite) TestIssuanceFlow() {
	rec := s.do(http.MethodPost, BasePath+"/credentials/init/", map[string]string{
		"storage_id":    storages.LCWallet,
		"credential_id": s.credentialID(),
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	line := decode[LineResponse](s, rec)
	s.Equal("initiated", line.State)
	s.Equal(issuerID, line.IssuerID)

	rec = s.do(http.MethodPost, BasePath+"/credentials/"+line.ID+"/request/", map[string]string{"holder": holder})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal("validated", decode[LineResponse](s, rec).State)

	rec = s.do(http.MethodPost, BasePath+"/credentials/"+line.ID+"/issue/", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	doc := decode[map[string]any](s, rec)
	s.Contains(doc, "proof")

	rec = s.do(http.MethodGet, BasePath+"/credentials/"+line.ID+"/", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("finalized", decode[LineResponse](s, rec).State)

	rec = s.do(http.MethodPost, BasePath+"/credentials/"+line.ID+"/issue/", nil)
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestCredentialLines() {
	credentialID := s.credentialID()
	for _, storageID := range []string{storages.LCWallet, storages.WebWallet} {
		rec := s.do(http.MethodPost, BasePath+"/credentials/init/", map[string]string{
			"storage_id":    storageID,
			"credential_id": credentialID,
		})
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(http.MethodGet, BasePath+"/user_credentials/"+credentialID+"/lines/", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	lines := decode[[]LineResponse](s, rec)
	s.Require().Len(lines, 2)
	s.ElementsMatch([]string{storages.LCWallet, storages.WebWallet}, []string{lines[0].StorageID, lines[1].StorageID})
	for _, l := range lines {
		s.Equal(credentialID, l.UserCredentialID)
		s.Equal("initiated", l.State)
	}

	rec = s.do(http.MethodGet, BasePath+"/user_credentials/"+uuid.NewString()+"/lines/", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Empty(decode[[]LineResponse](s, rec))

	rec = s.do(http.MethodGet, BasePath+"/user_credentials/nope/lines/", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestInitValidation() {
	rec := s.do(http.MethodPost, BasePath+"/credentials/init/", map[string]string{"credential_id": "nope"})
	s.Equal(http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](s, rec)
	fields := body["fields"].(map[string]any)
	s.Contains(fields, "storage_id")
	s.Contains(fields, "credential_id")

	rec = s.do(http.MethodPost, BasePath+"/credentials/init/", map[string]string{"storage_id": "dropbox"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestRequestValidationIsFieldKeyed() {
	rec := s.do(http.MethodPost, BasePath+"/credentials/init/", map[string]string{
		"storage_id":    storages.WebWallet,
		"credential_id": s.credentialID(),
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	line := decode[LineResponse](s, rec)

	rec = s.do(http.MethodPost, BasePath+"/credentials/"+line.ID+"/request/", map[string]string{"holder_id": "mailto:alice"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(decode[map[string]any](s, rec)["fields"], "holder_id")

	rec = s.do(http.MethodPost, BasePath+"/credentials/"+line.ID+"/issue/", nil)
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestUnknownLine() {
	rec := s.do(http.MethodPost, BasePath+"/credentials/"+uuid.NewString()+"/issue/", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, BasePath+"/credentials/not-a-uuid/issue/", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestStatusList() {
	rec := s.do(http.MethodGet, BasePath+"/status-list/2021/v1/"+issuerID+"/", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	doc, err := s.service.IssueStatusList(context.Background(), issuerID, "H4sIAAAAAAAA/wMAAAAAAAAAAAA=")
	s.Require().NoError(err)
	s.Require().NoError(s.publisher.Publish(context.Background(), issuerID, doc))

	for _, id := range []string{issuerID, statuslist.Slug(issuerID)} {
		rec = s.do(http.MethodGet, BasePath+"/status-list/2021/v1/"+id+"/", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("application/json", rec.Header().Get("Content-Type"))
		s.Equal(doc["id"], decode[map[string]any](s, rec)["id"])
	}
}

func (s *HandlerSuite) TestStorages() {
	rec := s.do(http.MethodGet, BasePath+"/storages/", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	list := decode[[]StorageResponse](s, rec)
	s.Require().Len(list, 2)
	s.Equal(storages.LCWallet, list[0].ID)
	s.Equal(models.DataModelOBv3, list[0].PreferredDataModel)
}
