package consul

import (
	"fmt"
	"strconv"

	"github.com/aihub/genai-rag/internal/config"
	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// ServiceRegistry handles service registration with Consul
type ServiceRegistry struct {
	client    *Client
	serviceID string
	logger    *zap.Logger
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(client *Client, logger *zap.Logger) *ServiceRegistry {
	return &ServiceRegistry{client: client, logger: logger}
}

// Register registers the service with an HTTP check against /health
func (sr *ServiceRegistry) Register(cfg *config.Config) error {
	if !sr.client.IsEnabled() {
		sr.logger.Info("Consul is not enabled, skipping service registration")
		return nil
	}

	registration, err := buildRegistration(cfg)
	if err != nil {
		return err
	}
	if err := sr.client.RegisterService(registration); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	sr.serviceID = registration.ID

	sr.logger.Info("Service registered with Consul",
		zap.String("service_id", registration.ID),
		zap.String("service_name", registration.Name),
		zap.String("address", registration.Address),
		zap.Int("port", registration.Port),
	)
	return nil
}

// Deregister deregisters the service from Consul
func (sr *ServiceRegistry) Deregister() error {
	if sr.serviceID == "" {
		return nil
	}
	return sr.client.DeregisterService(sr.serviceID)
}

func buildRegistration(cfg *config.Config) (*api.AgentServiceRegistration, error) {
	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid server port %q: %w", cfg.Server.Port, err)
	}

	host := cfg.Consul.ServiceHost
	if host == "" {
		host = "localhost"
	}

	return &api.AgentServiceRegistration{
		ID:      cfg.Consul.ServiceID,
		Name:    cfg.Consul.ServiceName,
		Tags:    []string{"api", "rag", "beego", cfg.Server.Env},
		Address: host,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", host, port),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Meta: map[string]string{
			"env":                cfg.Server.Env,
			"conversation_store": cfg.Conversation.Store,
			"vector_store":       cfg.Knowledge.VectorStore.Provider,
		},
	}, nil
}
