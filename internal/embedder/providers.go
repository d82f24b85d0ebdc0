package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hash"

	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// Dimensions
	JinaDimension    = 1024
	OpenAIDimension  = 1536
	DefaultDimension = 2048

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	DefaultTimeout = 30 * time.Second

	warmupText = "warmup"

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// RemoteOptions configures an HTTP embedding provider.
type RemoteOptions struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Retry     RetryConfig
}

// remoteClient speaks the /embeddings wire format shared by OpenAI and Jina.
type remoteClient struct {
	provider  string
	apiKey    string
	endpoint  string
	host      string
	model     string
	dimension int

	// sendDimension asks the server for a shortened vector
	sendDimension bool
	httpClient    *http.Client
	limiter       *rate.Limiter
	retry         RetryConfig
}

func newRemoteClient(provider, defaultURL, defaultModel string, defaultDim int, opts RemoteOptions) (*remoteClient, error) {
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s requires an api key", ErrNoProviderEnabled, provider)
	}

	base := opts.BaseURL
	if base == "" {
		base = defaultURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: bad base url %q", ErrInvalidInput, base)
	}

	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	dim := opts.Dimension
	if dim <= 0 {
		dim = defaultDim
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := int(math.Ceil(opts.RateLimit))
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	retry := opts.Retry
	if retry.MaxRetries <= 0 {
		retry = DefaultRetryConfig()
	}

	return &remoteClient{
		provider:      provider,
		apiKey:        opts.APIKey,
		endpoint:      strings.TrimRight(base, "/") + "/embeddings",
		host:          u.Host,
		model:         model,
		dimension:     dim,
		sendDimension: opts.Dimension > 0 && opts.Dimension != defaultDim,
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       limiter,
		retry:         retry,
	}, nil
}

func (c *remoteClient) generateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	embeddings, err := retryWithBackoff(ctx, c.retry, func() ([]*Embedding, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.callAPI(ctx, req.Texts, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	if len(embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(embeddings), len(req.Texts))
	}

	for i, emb := range embeddings {
		if err := types.CheckDimension(emb.Vector, c.dimension); err != nil {
			return nil, err
		}
		emb.Hash = ComputeHash(req.Texts[i])
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   c.provider,
		Model:      model,
	}, nil
}

func (c *remoteClient) generate(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	// Use batch API for consistency
	resp, err := c.generateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	return resp.Embeddings[0], nil
}

func (c *remoteClient) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}
	if c.sendDimension {
		reqBody["dimensions"] = c.dimension
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newStatusError(resp, bodyBytes)
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Servers may return data out of order
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	if apiResp.Model == "" {
		apiResp.Model = model
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  c.provider,
			Model:     apiResp.Model,
		}
	}

	return embeddings, nil
}

// warm sends one short request so connection setup, credentials and the
// returned dimension are checked before the first query. It is not retried.
func (c *remoteClient) warm(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	embeddings, err := c.callAPI(ctx, []string{warmupText}, c.model)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	if len(embeddings) != 1 {
		return fmt.Errorf("%w: got %d embeddings for 1 text", ErrProviderFailed, len(embeddings))
	}
	return types.CheckDimension(embeddings[0].Vector, c.dimension)
}

func (c *remoteClient) close() {
	c.httpClient.CloseIdleConnections()
}

// JinaProvider implements Embedder using Jina AI API
type JinaProvider struct {
	client *remoteClient
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(opts RemoteOptions) (*JinaProvider, error) {
	client, err := newRemoteClient(ProviderJina, DefaultJinaBaseURL, DefaultJinaModel, JinaDimension, opts)
	if err != nil {
		return nil, err
	}
	return &JinaProvider{client: client}, nil
}

func (j *JinaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return j.client.generate(ctx, req)
}

func (j *JinaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return j.client.generateBatch(ctx, req)
}

// Warm implements Warmer.
func (j *JinaProvider) Warm(ctx context.Context) error { return j.client.warm(ctx) }

func (j *JinaProvider) Dimension() int   { return j.client.dimension }
func (j *JinaProvider) Provider() string { return ProviderJina }
func (j *JinaProvider) Model() string    { return j.client.model }
func (j *JinaProvider) Device() string   { return "remote:" + j.client.host }

func (j *JinaProvider) Close() error {
	j.client.close()
	return nil
}

// OpenAIProvider implements Embedder against any OpenAI-compatible
// /embeddings endpoint, hosted or self-run.
type OpenAIProvider struct {
	client *remoteClient
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(opts RemoteOptions) (*OpenAIProvider, error) {
	client, err := newRemoteClient(ProviderOpenAI, DefaultOpenAIBaseURL, DefaultOpenAIModel, OpenAIDimension, opts)
	if err != nil {
		return nil, err
	}
	return &OpenAIProvider{client: client}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return o.client.generate(ctx, req)
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return o.client.generateBatch(ctx, req)
}

// Warm implements Warmer.
func (o *OpenAIProvider) Warm(ctx context.Context) error { return o.client.warm(ctx) }

func (o *OpenAIProvider) Dimension() int   { return o.client.dimension }
func (o *OpenAIProvider) Provider() string { return ProviderOpenAI }
func (o *OpenAIProvider) Model() string    { return o.client.model }
func (o *OpenAIProvider) Device() string   { return "remote:" + o.client.host }

func (o *OpenAIProvider) Close() error {
	o.client.close()
	return nil
}

// LocalProvider derives vectors from a SHA-256 stream of the text.
// The vectors carry no semantics; it exists for development and tests.
type LocalProvider struct {
	model     string
	dimension int
}

// NewLocalProvider creates a local embedder producing vectors of the given dimension
func NewLocalProvider(dimension int) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Embedding{
		Vector:    HashVector(req.Text, l.dimension),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      ComputeHash(req.Text),
	}, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int   { return l.dimension }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return l.model }
func (l *LocalProvider) Device() string   { return "cpu" }
func (l *LocalProvider) Close() error     { return nil }

// HashVector expands the SHA-256 of text into a unit vector of length dim.
// Successive blocks hash the previous digest with a counter.
func HashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	var counter [8]byte
	for i := 0; i < dim; i++ {
		j := i % (len(block) / 4)
		if i > 0 && j == 0 {
			binary.LittleEndian.PutUint64(counter[:], uint64(i))
			block = sha256.Sum256(append(seed[:], counter[:]...))
		}
		u := binary.LittleEndian.Uint32(block[j*4:])
		vector[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}
	return NormalizeVector(vector)
}

// NormalizeVector normalizes a vector to unit length
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

var (
	_ Warmer = (*JinaProvider)(nil)
	_ Warmer = (*OpenAIProvider)(nil)
)
