package consul

import (
	"testing"

	"github.com/aihub/genai-rag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Port = "5000"
	cfg.Server.Env = "test"
	cfg.Consul.ServiceID = "genai-rag-api-1"
	cfg.Consul.ServiceName = "genai-rag-api"
	cfg.Consul.ServiceHost = "api.internal"
	cfg.Conversation.Store = "postgres"
	cfg.Knowledge.VectorStore.Provider = "milvus"
	return cfg
}

func TestBuildRegistration(t *testing.T) {
	reg, err := buildRegistration(testConfig())
	require.NoError(t, err)

	assert.Equal(t, "genai-rag-api-1", reg.ID)
	assert.Equal(t, "genai-rag-api", reg.Name)
	assert.Equal(t, "api.internal", reg.Address)
	assert.Equal(t, 5000, reg.Port)
	assert.Equal(t, "http://api.internal:5000/health", reg.Check.HTTP)
	assert.Contains(t, reg.Tags, "test")
	assert.Equal(t, "milvus", reg.Meta["vector_store"])
}

func TestBuildRegistration_BadPort(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = "http"
	_, err := buildRegistration(cfg)
	assert.Error(t, err)
}

func TestRegistry_DisabledClient(t *testing.T) {
	client, err := NewClient("", false, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())

	registry := NewServiceRegistry(client, zap.NewNop())
	assert.NoError(t, registry.Register(testConfig()))
	assert.NoError(t, registry.Deregister())
	assert.Error(t, client.RegisterService(nil))
}
