package consul

import (
	"fmt"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Client wraps the Consul API client
type Client struct {
	apiClient *api.Client
	enabled   bool
	logger    *zap.Logger
}

// NewClient creates a new Consul client. An unreachable agent downgrades to a disabled client.
func NewClient(address string, enabled bool, logger *zap.Logger) (*Client, error) {
	if !enabled {
		return &Client{enabled: false, logger: logger}, nil
	}

	config := api.DefaultConfig()
	if address != "" {
		config.Address = address
	}

	apiClient, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	if _, err := apiClient.Agent().Self(); err != nil {
		logger.Warn("Consul agent unreachable, service registration disabled", zap.Error(err))
		return &Client{enabled: false, logger: logger}, nil
	}

	logger.Info("Consul client initialized", zap.String("address", config.Address))
	return &Client{
		apiClient: apiClient,
		enabled:   true,
		logger:    logger,
	}, nil
}

// IsEnabled returns whether Consul is enabled
func (c *Client) IsEnabled() bool {
	return c != nil && c.enabled && c.apiClient != nil
}

// RegisterService registers a service with Consul
func (c *Client) RegisterService(registration *api.AgentServiceRegistration) error {
	if !c.IsEnabled() {
		return fmt.Errorf("Consul is not enabled")
	}
	return c.apiClient.Agent().ServiceRegister(registration)
}

// DeregisterService deregisters a service from Consul
func (c *Client) DeregisterService(serviceID string) error {
	if !c.IsEnabled() {
		return nil
	}
	if err := c.apiClient.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service %s: %w", serviceID, err)
	}
	c.logger.Info("Service deregistered from Consul", zap.String("service_id", serviceID))
	return nil
}
