package compose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator() Generator {
	return Generator{
		FrontendBase:         10000,
		BackendBase:          11000,
		MongoBase:            12000,
		ServerIP:             "203.0.113.10",
		TemplateFrontendName: "rentacar_template_frontend",
		TemplateBackendName:  "rentacar_template_backend",
	}
}

func TestSafeCode(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"acme", "acme"},
		{"acme-rent", "acmerent"},
		{"acme_rent", "acmerent"},
		{"a-b_c-d", "abcd"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeCode(tt.code), "code %q", tt.code)
	}
}

func TestPortsFor(t *testing.T) {
	g := testGenerator()

	ports := g.PortsFor(7)
	assert.Equal(t, 10007, ports.Frontend)
	assert.Equal(t, 11007, ports.Backend)
	assert.Equal(t, 12007, ports.Mongo)
}

func TestMinimalStack(t *testing.T) {
	g := testGenerator()
	doc := g.MinimalStack("acme-rent", "Acme Rent", 3)

	require.NoError(t, Validate(doc))
	assert.Contains(t, doc, "container_name: acmerent_mongodb")
	assert.Contains(t, doc, "MONGO_INITDB_DATABASE=acmerent_db")
	assert.Contains(t, doc, `"12003:27017"`)
	assert.NotContains(t, doc, "frontend", "minimal stack is database only")
	assert.NotContains(t, doc, "traefik", "minimal stack has no proxy routing")
}

func TestFullStack(t *testing.T) {
	g := testGenerator()
	doc := g.FullStack("acme-rent", "Acme Rent", "acmerent.example.com", 7)

	require.NoError(t, Validate(doc))

	names, err := ServiceNames(doc)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acmerent_mongodb", "acmerent_backend", "acmerent_frontend"}, names)

	assert.Contains(t, doc, `"12007:27017"`)
	assert.Contains(t, doc, `"11007:80"`)
	assert.Contains(t, doc, `"10007:80"`)

	// Host routing covers the bare domain, www, api, and panel
	assert.Contains(t, doc, "Host(`acmerent.example.com`) || Host(`www.acmerent.example.com`)")
	assert.Contains(t, doc, "Host(`api.acmerent.example.com`)")
	assert.Contains(t, doc, "Host(`panel.acmerent.example.com`)")
	assert.Contains(t, doc, "tls.certresolver=letsencrypt")

	// Original code and display name still reach the backend environment
	assert.Contains(t, doc, "COMPANY_CODE=acme-rent")
	assert.Contains(t, doc, "COMPANY_NAME=Acme Rent")
}

func TestURLsFor(t *testing.T) {
	g := testGenerator()

	withDomain := g.URLsFor("acme.example.com", 7)
	assert.Equal(t, "https://acme.example.com", withDomain.Website)
	assert.Equal(t, "https://panel.acme.example.com", withDomain.Panel)
	assert.Equal(t, "https://api.acme.example.com", withDomain.API)

	ipOnly := g.URLsFor("", 7)
	assert.Equal(t, "http://203.0.113.10:10007", ipOnly.Website)
	assert.Equal(t, "http://203.0.113.10:10007", ipOnly.Panel)
	assert.Equal(t, "http://203.0.113.10:11007", ipOnly.API)
}

func TestGeneratorsAreDeterministic(t *testing.T) {
	g := testGenerator()

	a := g.FullStack("acme", "Acme", "acme.example.com", 5)
	b := g.FullStack("acme", "Acme", "acme.example.com", 5)
	assert.Equal(t, a, b, "same inputs must render byte-identical output")

	assert.Equal(t, g.TemplateStack(), g.TemplateStack())
	assert.Equal(t, ProxyStack("ops@example.com"), ProxyStack("ops@example.com"))
}

func TestTemplateStack(t *testing.T) {
	doc := testGenerator().TemplateStack()

	require.NoError(t, Validate(doc))
	assert.Contains(t, doc, "container_name: rentacar_template_frontend")
	assert.Contains(t, doc, "container_name: rentacar_template_backend")
	assert.Contains(t, doc, "rentacar_template_frontend:/usr/share/nginx/html")
	assert.Contains(t, doc, "rentacar_template_backend:/app")
}

func TestProxyStack(t *testing.T) {
	doc := ProxyStack("ops@example.com")

	require.NoError(t, Validate(doc))
	assert.Contains(t, doc, "acme.email=ops@example.com")
	assert.Contains(t, doc, "--entrypoints.websecure.address=:443")
	assert.Contains(t, doc, "name: traefik_network")
}

func TestSuperadminStack(t *testing.T) {
	doc := testGenerator().SuperadminStack("https://portainer.local:9443", "ptr_testkey")

	require.NoError(t, Validate(doc))
	assert.Contains(t, doc, "container_name: superadmin_backend")
	assert.Contains(t, doc, "PORTAINER_URL=https://portainer.local:9443")
	assert.Contains(t, doc, "PORTAINER_API_KEY=ptr_testkey")
	assert.Contains(t, doc, "SERVER_IP=203.0.113.10")
	assert.Contains(t, doc, `"9000:80"`)
	assert.Contains(t, doc, `"9001:80"`)
}

func TestRuntimeConfigJS(t *testing.T) {
	js := RuntimeConfigJS("https://api.acme.example.com")
	assert.Equal(t, `window.__RUNTIME_CONFIG__ = { API_URL: "https://api.acme.example.com" };`, js)
}

func TestNginxSPAConf(t *testing.T) {
	conf := NginxSPAConf()
	assert.Contains(t, conf, "try_files $uri $uri/ /index.html;")
	assert.True(t, strings.HasPrefix(conf, "server {"))
}

func TestValidateRejectsGarbage(t *testing.T) {
	assert.Error(t, Validate(":\n :::"))
	assert.Error(t, Validate("version: '3.8'\n"), "no services must be rejected")
}
