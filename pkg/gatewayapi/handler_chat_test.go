package gatewayapi

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/promptbuilder"
)

func TestCollectContents(t *testing.T) {
	messages := []llm.Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: ""},
	}

	assert.Equal(t, []string{"be helpful", "hello", ""}, collectContents(messages))
}

func TestCollectContents_Empty(t *testing.T) {
	assert.Empty(t, collectContents(nil))
}

func TestContextBlockCollector_DrainReturnsAdded(t *testing.T) {
	var c contextBlockCollector
	c.add(promptbuilder.ContextBlock{Priority: promptbuilder.PriorityHigh, Text: "a"})
	c.add(promptbuilder.ContextBlock{Priority: promptbuilder.PriorityMedium, Text: "b"})

	got := c.drain()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
}

func TestContextBlockCollector_ConcurrentAdd(t *testing.T) {
	var c contextBlockCollector
	var wg sync.WaitGroup

	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.add(promptbuilder.ContextBlock{Text: "x"})
		}()
	}
	wg.Wait()

	assert.Len(t, c.drain(), n, "every concurrent add should land without a race or a lost update")
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	s := &Server{}
	require.NoError(t, s.healthz(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
