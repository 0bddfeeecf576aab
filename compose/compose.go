// Package compose renders the infrastructure documents deployed through the
// control plane.
//
// Every generator is a pure function of its inputs: the same tenant code,
// domain, and port offset always produce byte-identical output. That keeps the
// documents golden-file testable and makes redeployments reproducible.
package compose

import (
	"fmt"
	"strings"
)

// SafeCode strips separator characters from a tenant code. The result names
// every container, volume, and network of the tenant's stack, so the same
// derivation must be used everywhere a tenant resource is addressed.
func SafeCode(code string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(code)
}

// Ports is the per-tenant published port block.
type Ports struct {
	Frontend int
	Backend  int
	Mongo    int
}

// Generator renders compose documents for tenant and platform stacks. All
// knobs are injected so tests can render against fixed values.
type Generator struct {
	// FrontendBase, BackendBase, MongoBase are added to a tenant's port
	// offset to form its published ports.
	FrontendBase int
	BackendBase  int
	MongoBase    int

	// ServerIP is the public address used for IP-only (domain-less) tenants.
	ServerIP string

	// TemplateFrontendName and TemplateBackendName are the singleton
	// template container names.
	TemplateFrontendName string
	TemplateBackendName  string
}

// PortsFor derives the published port block for a tenant offset.
func (g Generator) PortsFor(offset int) Ports {
	return Ports{
		Frontend: g.FrontendBase + offset,
		Backend:  g.BackendBase + offset,
		Mongo:    g.MongoBase + offset,
	}
}

// URLs are the public addresses of one tenant deployment.
type URLs struct {
	Website string
	Panel   string
	API     string
}

// URLsFor derives the tenant's public URLs. Tenants with a domain are served
// over HTTPS through the reverse proxy; domain-less tenants fall back to
// plain HTTP against the server IP and their published ports.
func (g Generator) URLsFor(domain string, offset int) URLs {
	if domain != "" {
		return URLs{
			Website: "https://" + domain,
			Panel:   "https://panel." + domain,
			API:     "https://api." + domain,
		}
	}
	ports := g.PortsFor(offset)
	return URLs{
		Website: fmt.Sprintf("http://%s:%d", g.ServerIP, ports.Frontend),
		Panel:   fmt.Sprintf("http://%s:%d", g.ServerIP, ports.Frontend),
		API:     fmt.Sprintf("http://%s:%d", g.ServerIP, ports.Backend),
	}
}

// MinimalStack renders a database-only stack for tenants without a domain.
// The frontend and backend are reached over published ports, so only the
// database service is declared here; application containers come from the
// full stack once a domain is assigned.
func (g Generator) MinimalStack(code, name string, offset int) string {
	safe := SafeCode(code)
	ports := g.PortsFor(offset)

	return fmt.Sprintf(`version: '3.8'

services:
  %[1]s_mongodb:
    image: mongo:6.0
    container_name: %[1]s_mongodb
    restart: unless-stopped
    environment:
      - MONGO_INITDB_DATABASE=%[1]s_db
    volumes:
      - %[1]s_mongo_data:/data/db
    ports:
      - "%[2]d:27017"
    networks:
      - %[1]s_network

volumes:
  %[1]s_mongo_data:

networks:
  %[1]s_network:
    driver: bridge
`, safe, ports.Mongo)
}

// FullStack renders the complete tenant stack: database, backend, and
// frontend, with reverse-proxy routing labels for {domain}, api.{domain},
// and panel.{domain}. Application code is copied into the containers from
// the template stack after creation, so the images here are bare runtimes.
func (g Generator) FullStack(code, name, domain string, offset int) string {
	safe := SafeCode(code)
	ports := g.PortsFor(offset)

	apiRule := fmt.Sprintf("Host(`api.%s`)", domain)
	webRule := fmt.Sprintf("Host(`%s`) || Host(`www.%s`)", domain, domain)
	panelRule := fmt.Sprintf("Host(`panel.%s`)", domain)

	return fmt.Sprintf(`version: '3.8'

services:
  %[1]s_mongodb:
    image: mongo:6.0
    container_name: %[1]s_mongodb
    restart: unless-stopped
    environment:
      - MONGO_INITDB_DATABASE=%[1]s_db
    volumes:
      - %[1]s_mongo_data:/data/db
    ports:
      - "%[4]d:27017"
    networks:
      - %[1]s_network
      - traefik_network

  %[1]s_backend:
    image: tiangolo/uvicorn-gunicorn-fastapi:python3.11-slim
    container_name: %[1]s_backend
    restart: unless-stopped
    environment:
      - MONGO_URL=mongodb://%[1]s_mongodb:27017
      - DB_NAME=%[1]s_db
      - JWT_SECRET=%[1]s_jwt_secret_2024
      - COMPANY_CODE=%[2]s
      - COMPANY_NAME=%[3]s
    ports:
      - "%[5]d:80"
    depends_on:
      - %[1]s_mongodb
    networks:
      - %[1]s_network
      - traefik_network
    labels:
      - "traefik.enable=true"
      - "traefik.http.routers.%[1]s-api.rule=%[7]s"
      - "traefik.http.routers.%[1]s-api.entrypoints=websecure"
      - "traefik.http.routers.%[1]s-api.tls.certresolver=letsencrypt"
      - "traefik.http.services.%[1]s-api.loadbalancer.server.port=80"

  %[1]s_frontend:
    image: nginx:alpine
    container_name: %[1]s_frontend
    restart: unless-stopped
    ports:
      - "%[6]d:80"
    depends_on:
      - %[1]s_backend
    networks:
      - %[1]s_network
      - traefik_network
    labels:
      - "traefik.enable=true"
      - "traefik.http.routers.%[1]s-web.rule=%[8]s"
      - "traefik.http.routers.%[1]s-web.entrypoints=websecure"
      - "traefik.http.routers.%[1]s-web.tls.certresolver=letsencrypt"
      - "traefik.http.routers.%[1]s-web.service=%[1]s-frontend"
      - "traefik.http.routers.%[1]s-panel.rule=%[9]s"
      - "traefik.http.routers.%[1]s-panel.entrypoints=websecure"
      - "traefik.http.routers.%[1]s-panel.tls.certresolver=letsencrypt"
      - "traefik.http.routers.%[1]s-panel.service=%[1]s-frontend"
      - "traefik.http.services.%[1]s-frontend.loadbalancer.server.port=80"

volumes:
  %[1]s_mongo_data:

networks:
  %[1]s_network:
    driver: bridge
  traefik_network:
    external: true
`, safe, code, name, ports.Mongo, ports.Backend, ports.Frontend, apiRule, webRule, panelRule)
}

// TemplateStack renders the singleton stack holding the golden frontend build
// and backend source in long-lived named volumes. It carries no per-tenant
// ports; the fixed ones exist only for smoke checks against the template
// containers themselves.
func (g Generator) TemplateStack() string {
	return fmt.Sprintf(`version: '3.8'

services:
  template_frontend:
    image: nginx:alpine
    container_name: %[1]s
    restart: unless-stopped
    volumes:
      - %[1]s:/usr/share/nginx/html
    ports:
      - "10099:80"
    networks:
      - template_network

  template_backend:
    image: tiangolo/uvicorn-gunicorn-fastapi:python3.11-slim
    container_name: %[2]s
    restart: unless-stopped
    volumes:
      - %[2]s:/app
    ports:
      - "11099:80"
    networks:
      - template_network

volumes:
  %[1]s:
    name: %[1]s
  %[2]s:
    name: %[2]s

networks:
  template_network:
    driver: bridge
`, g.TemplateFrontendName, g.TemplateBackendName)
}

// ProxyStack renders the shared reverse-proxy stack with automatic TLS
// issuance. acmeEmail receives certificate expiry notices.
func ProxyStack(acmeEmail string) string {
	dashboardRule := "Host(`traefik.localhost`)"

	return fmt.Sprintf(`version: '3.8'

services:
  traefik:
    image: traefik:v2.10
    container_name: traefik
    restart: unless-stopped
    command:
      - "--api.dashboard=true"
      - "--api.insecure=true"
      - "--providers.docker=true"
      - "--providers.docker.exposedbydefault=false"
      - "--providers.docker.network=traefik_network"
      - "--entrypoints.web.address=:80"
      - "--entrypoints.web.http.redirections.entrypoint.to=websecure"
      - "--entrypoints.web.http.redirections.entrypoint.scheme=https"
      - "--entrypoints.websecure.address=:443"
      - "--certificatesresolvers.letsencrypt.acme.tlschallenge=true"
      - "--certificatesresolvers.letsencrypt.acme.email=%[1]s"
      - "--certificatesresolvers.letsencrypt.acme.storage=/letsencrypt/acme.json"
      - "--log.level=INFO"
    ports:
      - "80:80"
      - "443:443"
      - "8080:8080"
    volumes:
      - /var/run/docker.sock:/var/run/docker.sock:ro
      - traefik_certs:/letsencrypt
    networks:
      - traefik_network
    labels:
      - "traefik.enable=true"
      - "traefik.http.routers.dashboard.rule=%[2]s"
      - "traefik.http.routers.dashboard.service=api@internal"

volumes:
  traefik_certs:

networks:
  traefik_network:
    name: traefik_network
    driver: bridge
`, acmeEmail, dashboardRule)
}

// SuperadminStack renders the control-panel stack itself: the management
// backend, its database, and the admin frontend on the fixed platform ports.
// orchestratorURL and orchestratorKey are passed through as the backend's own
// control-plane credentials.
func (g Generator) SuperadminStack(orchestratorURL, orchestratorKey string) string {
	return fmt.Sprintf(`version: '3.8'

services:
  superadmin_mongodb:
    image: mongo:6.0
    container_name: superadmin_mongodb
    restart: unless-stopped
    ports:
      - "27017:27017"
    volumes:
      - superadmin_mongo_data:/data/db
    networks:
      - superadmin_network

  superadmin_backend:
    image: tiangolo/uvicorn-gunicorn-fastapi:python3.11-slim
    container_name: superadmin_backend
    restart: unless-stopped
    ports:
      - "9001:80"
    environment:
      - MONGO_URL=mongodb://superadmin_mongodb:27017
      - DB_NAME=superadmin_db
      - PORTAINER_URL=%[1]s
      - PORTAINER_API_KEY=%[2]s
      - SERVER_IP=%[3]s
    volumes:
      - superadmin_backend_app:/app
    networks:
      - superadmin_network
    depends_on:
      - superadmin_mongodb
    extra_hosts:
      - "host.docker.internal:host-gateway"

  superadmin_frontend:
    image: nginx:alpine
    container_name: superadmin_frontend
    restart: unless-stopped
    ports:
      - "9000:80"
    volumes:
      - superadmin_frontend_html:/usr/share/nginx/html
    networks:
      - superadmin_network
    depends_on:
      - superadmin_backend

volumes:
  superadmin_mongo_data:
  superadmin_backend_app:
  superadmin_frontend_html:

networks:
  superadmin_network:
    driver: bridge
`, orchestratorURL, orchestratorKey, g.ServerIP)
}

// RuntimeConfigJS renders the frontend's runtime configuration file. The
// frontend reads window.__RUNTIME_CONFIG__ at load time, so swapping this one
// file retargets a deployed build without rebuilding it.
func RuntimeConfigJS(apiURL string) string {
	return fmt.Sprintf(`window.__RUNTIME_CONFIG__ = { API_URL: %q };`, apiURL)
}

// NginxSPAConf renders the nginx server block that routes unknown paths to
// index.html so client-side routing works on deep links.
func NginxSPAConf() string {
	return `server {
    listen 80;
    server_name localhost;
    root /usr/share/nginx/html;
    index index.html;

    location / {
        try_files $uri $uri/ /index.html;
    }

    location ~* \.(js|css|png|jpg|jpeg|gif|ico|svg|woff|woff2)$ {
        expires 1y;
        add_header Cache-Control "public, immutable";
    }

    gzip on;
    gzip_types text/plain text/css application/json application/javascript text/xml application/xml;
}
`
}
