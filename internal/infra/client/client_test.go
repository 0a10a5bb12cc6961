package client_test

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/client"
)

// fakeRequester records the last call and answers with a canned JSON body.
type fakeRequester struct {
	method   string
	endpoint string
	query    url.Values
	body     any
	reply    string
	err      error
}

func (f *fakeRequester) Do(_ context.Context, method, endpoint string, query url.Values, body, out any) error {
	f.method, f.endpoint, f.query, f.body = method, endpoint, query, body
	if f.err != nil {
		return f.err
	}
	if out != nil && f.reply != "" {
		return json.Unmarshal([]byte(f.reply), out)
	}
	return nil
}

func TestListSchedules_SendsOnlyNonEmptyFilters(t *testing.T) {
	api := &fakeRequester{reply: `{"schedules":[],"pagination":{"page":2,"limit":10,"total":11,"pages":2}}`}
	c := client.NewScheduleClient(api)

	resp, err := c.ListSchedules(context.Background(), domain.ScheduleFilters{Status: domain.StatusAgendado, NfeNumber: "13415"}, 2, 10)
	require.NoError(t, err)

	assert.Equal(t, "GET", api.method)
	assert.Equal(t, "/schedules", api.endpoint)
	assert.Equal(t, "Agendado", api.query.Get("status"))
	assert.Equal(t, "13415", api.query.Get("nfe_number"))
	assert.Equal(t, "2", api.query.Get("page"))
	assert.False(t, api.query.Has("client"))
	assert.False(t, api.query.Has("date_from"))
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, 11, resp.Pagination.Total)
}

func TestUpdateStatus_Path(t *testing.T) {
	api := &fakeRequester{reply: `{"id":42,"status":"Recebido"}`}
	c := client.NewScheduleClient(api)

	s, err := c.UpdateStatus(context.Background(), 42, &domain.StatusChangeRequest{Status: domain.StatusRecebido})
	require.NoError(t, err)
	assert.Equal(t, "PATCH", api.method)
	assert.Equal(t, "/schedules/42/status", api.endpoint)
	assert.Equal(t, domain.StatusRecebido, s.Status)
}

func TestLogin_UsesPublicRequester(t *testing.T) {
	api := &fakeRequester{}
	public := &fakeRequester{reply: `{"token":"t","user":{"user":"ana","level_access":1,"cli_access":{"111":1}}}`}
	c := client.NewAuthClient(api, public)

	resp, err := c.Login(context.Background(), &domain.LoginRequest{User: "ana", Password: "123"})
	require.NoError(t, err)
	assert.Equal(t, "/auth/login", public.endpoint)
	assert.Empty(t, api.endpoint)
	assert.True(t, resp.User.CliAccess.Granted("111"))
}

func TestRefresh_EmptyTokenIsUnauthenticated(t *testing.T) {
	c := client.NewAuthClient(&fakeRequester{reply: `{}`}, nil)

	_, err := c.Refresh(context.Background())
	assert.Equal(t, domain.ClassUnauthenticated, domain.Classify(err))
}

func TestCheckExisting_WrapsBatch(t *testing.T) {
	api := &fakeRequester{reply: `{"results":[{"supp_code":"A1","exists":true,"data":{"cli_code":"X"}}]}`}
	c := client.NewCatalogClient(api)

	res, err := c.CheckExisting(context.Background(), []domain.ProductCheck{{SuppCode: "A1", SuppCNPJ: "1", CliCNPJ: "2"}})
	require.NoError(t, err)
	assert.Equal(t, "/products/check-existing", api.endpoint)
	req, ok := api.body.(*domain.ProductCheckRequest)
	require.True(t, ok)
	assert.Len(t, req.Products, 1)
	require.Len(t, res, 1)
	assert.True(t, res[0].Exists)
}

func TestListClients(t *testing.T) {
	api := &fakeRequester{reply: `{"data":[{"name":"Loja Centro","cnpj":"11222333000181"}]}`}
	clients, err := client.NewCatalogClient(api).ListClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Loja Centro", clients[0].Name)
}
