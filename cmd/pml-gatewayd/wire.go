package main

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/capstore"
	pulseclient "github.com/pml-run/gateway/internal/clients/pulse"
	"github.com/pml-run/gateway/internal/config"
	"github.com/pml-run/gateway/internal/decisioneval"
	"github.com/pml-run/gateway/internal/depgraph"
	"github.com/pml-run/gateway/internal/embedclient"
	"github.com/pml-run/gateway/internal/eventbus"
	"github.com/pml-run/gateway/internal/executor"
	"github.com/pml-run/gateway/internal/matcher"
	"github.com/pml-run/gateway/internal/mcpclient"
	"github.com/pml-run/gateway/internal/router"
	"github.com/pml-run/gateway/internal/sandboxclient"
	"github.com/pml-run/gateway/internal/speculation"
	"github.com/pml-run/gateway/internal/statecache"
	"github.com/pml-run/gateway/internal/suggester"
	"github.com/pml-run/gateway/internal/tracesink"
)

// Gateway bundles the wired Meta-Tool Router with the collaborators that
// need an orderly shutdown: the two trace sinks (flush once, as spec.md
// §4.B requires) and the database clients backing everything else.
type Gateway struct {
	Router  *router.Router
	Healthz health.Checker

	mongoClient      *mongo.Client
	redisClient      *redis.Client
	pulseRedisClient *redis.Client

	bus              *eventbus.Bus
	pulseBroadcaster *eventbus.PulseBroadcaster
	executionTraces  *tracesink.Sink[domain.ExecutionTrace]
	algorithmTraces  *tracesink.Sink[domain.AlgorithmTrace]

	unsubscribe []eventbus.Unsubscribe
}

// wire constructs every collaborator named in SPEC_FULL.md's domain stack
// and assembles them into a Gateway, in dependency order: storage clients
// first, then the components layered directly on them (state cache,
// capability store, dependency graph), then the components composed from
// those (matcher, suggester), then the executor's own collaborators
// (tool invocation, sandboxing, decisions, speculation, checkpoints), and
// finally the executor and router themselves.
func wire(ctx context.Context, cfg config.Config) (*Gateway, error) {
	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("wire: connect mongo: %w", err)
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("wire: ping mongo: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("wire: ping redis: %w", err)
	}

	bus := eventbus.New()
	pulseRedisClient, pulseBroadcaster, err := wireEventFanout(ctx, cfg, bus)
	if err != nil {
		return nil, fmt.Errorf("wire: event fan-out: %w", err)
	}

	executionTraceWriter, err := tracesink.NewExecutionTraceWriter(tracesink.MongoOptions{
		Client: mongoClient, Database: cfg.MongoDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: execution trace writer: %w", err)
	}
	algorithmTraceWriter, err := tracesink.NewAlgorithmTraceWriter(tracesink.MongoOptions{
		Client: mongoClient, Database: cfg.MongoDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: algorithm trace writer: %w", err)
	}
	executionTraces := tracesink.New(executionTraceWriter)
	algorithmTraces := tracesink.New(algorithmTraceWriter)

	state, err := statecache.New(statecache.Options{Redis: redisClient})
	if err != nil {
		return nil, fmt.Errorf("wire: state cache: %w", err)
	}

	embedder, err := wireEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire: embedder: %w", err)
	}

	capabilities, err := capstore.New(capstore.Options{
		Client: mongoClient, Database: cfg.MongoDatabase, Embedder: embedder,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: capability store: %w", err)
	}

	edgeStore := depgraph.NewMongoEdgeStore(mongoClient.Database(cfg.MongoDatabase).Collection("capability_dependencies"))
	graph, err := depgraph.LoadFrom(ctx, edgeStore)
	if err != nil {
		return nil, fmt.Errorf("wire: dependency graph: %w", err)
	}

	thresholds := matcher.NewMongoThresholdStore(mongoClient.Database(cfg.MongoDatabase).Collection("adaptive_thresholds"))
	match, err := matcher.New(matcher.Options{
		Store: capabilities, Embedder: embedder, Graph: graph, Thresholds: thresholds,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: matcher: %w", err)
	}

	suggest, err := suggester.New(suggester.Options{Matcher: match, Graph: graph})
	if err != nil {
		return nil, fmt.Errorf("wire: suggester: %w", err)
	}

	tools, err := mcpclient.New(mcpclient.Options{Registry: mcpclient.StaticRegistry(cfg.MCPServers)})
	if err != nil {
		return nil, fmt.Errorf("wire: mcp client: %w", err)
	}

	sandbox, err := wireSandbox(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire: sandbox: %w", err)
	}

	checkpoints, err := executor.NewMongoCheckpointStore(executor.MongoCheckpointOptions{
		Client: mongoClient, Database: cfg.MongoDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: checkpoint store: %w", err)
	}

	exec, err := executor.New(executor.Options{
		MaxConcurrency:         cfg.MaxConcurrency,
		DefaultTaskTimeout:     cfg.DefaultTaskTimeout,
		AbortTimeout:           cfg.AbortTimeout,
		CheckpointsPerWorkflow: cfg.CheckpointsPerWorkflow,
		Tools:                  tools,
		Sandbox:                sandbox,
		Decisions:              wireDecisions(cfg),
		Speculation:            speculation.New(nil, defaultSpeculationThreshold),
		Checkpoints:            checkpoints,
		State:                  state,
		Capabilities:           capabilities,
		Events:                 bus,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: executor: %w", err)
	}

	rt, err := router.New(router.Options{
		Suggester:    suggest,
		Executor:     exec,
		Capabilities: capabilities,
		Embedder:     embedder,
		Catalog:      router.NewMemoryCatalog(),
		Graph:        graph,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: router: %w", err)
	}

	gw := &Gateway{
		Router:           rt,
		Healthz:          health.NewChecker(capabilities, state),
		mongoClient:      mongoClient,
		redisClient:      redisClient,
		pulseRedisClient: pulseRedisClient,
		bus:              bus,
		pulseBroadcaster: pulseBroadcaster,
		executionTraces:  executionTraces,
		algorithmTraces:  algorithmTraces,
	}
	gw.subscribeTraceCapture(bus)
	return gw, nil
}

// wireEventFanout attaches cross-process event fan-out to bus when
// cfg.PulseRedisAddr is set, so multiple gateway replicas share one
// dag.*/tool.* event stream (spec.md §4.A's broadcast-channel note). It
// opens its own Redis connection rather than reusing redisClient: Pulse
// streams and the state cache are independent concerns with independent
// failure modes, and a deployment may point them at different Redis
// instances entirely. Returns nil, nil when fan-out isn't configured.
func wireEventFanout(ctx context.Context, cfg config.Config, bus *eventbus.Bus) (*redis.Client, *eventbus.PulseBroadcaster, error) {
	if cfg.PulseRedisAddr == "" {
		return nil, nil, nil
	}
	pulseRedis := redis.NewClient(&redis.Options{Addr: cfg.PulseRedisAddr})
	if err := pulseRedis.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("ping pulse redis: %w", err)
	}
	pulseCli, err := pulseclient.New(pulseclient.Options{Redis: pulseRedis})
	if err != nil {
		return nil, nil, fmt.Errorf("pulse client: %w", err)
	}
	broadcaster, err := eventbus.NewPulseBroadcaster(ctx, pulseCli, "pml/gateway/events", bus)
	if err != nil {
		return nil, nil, fmt.Errorf("pulse broadcaster: %w", err)
	}
	eventbus.WithBroadcaster(broadcaster)(bus)
	return pulseRedis, broadcaster, nil
}

// defaultSpeculationThreshold keeps speculative dispatch opt-in until a real
// ConfidenceSource is wired: nothing clears a positive bar with the static
// zero-confidence default, so no task ever starts early by accident.
const defaultSpeculationThreshold = 0.85

func wireEmbedder(cfg config.Config) (capstore.Embedder, error) {
	switch cfg.EmbedProvider {
	case "bedrock":
		return nil, fmt.Errorf("wire: bedrock embed provider requires a configured *bedrockruntime.Client; wire one in before deploying with EMBED_PROVIDER=bedrock")
	default:
		return embedclient.NewOpenAIFromAPIKey(cfg.OpenAIAPIKey, openai.EmbeddingModel(cfg.OpenAIEmbedModel))
	}
}

// wireDecisions builds the executor's DecisionEvaluator. With no Anthropic
// key configured it's pure static evaluation; with one, unresolvable
// conditions fall back to a Claude judgment instead of failing the task.
func wireDecisions(cfg config.Config) executor.DecisionEvaluator {
	if cfg.AnthropicAPIKey == "" {
		return decisioneval.New()
	}
	fallback, err := decisioneval.NewLLMFallbackFromAPIKey(cfg.AnthropicAPIKey, cfg.AnthropicDecisionModel)
	if err != nil {
		return decisioneval.New()
	}
	return fallback
}

func wireSandbox(cfg config.Config) (*sandboxclient.DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return sandboxclient.NewDocker(sandboxclient.DockerOptions{
		Client: cli, Image: cfg.SandboxImage, Timeout: cfg.SandboxTimeout,
	})
}

// subscribeTraceCapture enqueues an ExecutionTrace on every workflow
// terminal event, grounded on the executor's own eager-learning call
// (scheduler.go's tryEagerLearning): both build their record directly from
// the Result the executor already computed, rather than re-deriving it from
// the event bus's closed vocabulary of event kinds.
func (gw *Gateway) subscribeTraceCapture(bus *eventbus.Bus) {
	capture := func(ctx context.Context, ev eventbus.Event) {
		result, ok := ev.Payload.(executor.Result)
		if !ok {
			return
		}
		gw.executionTraces.Enqueue(domain.ExecutionTrace{
			ID:          uuid.NewString(),
			IntentText:  result.Intent,
			ExecutedAt:  ev.Timestamp,
			TaskResults: taskResultSlice(result.TaskResults),
			UserID:      result.UserID,
			Success:     ev.Kind == eventbus.KindDAGCompleted,
		})
	}
	gw.unsubscribe = append(gw.unsubscribe,
		bus.On(eventbus.KindDAGCompleted, capture),
		bus.On(eventbus.KindDAGFailed, capture),
	)
}

func taskResultSlice(results map[string]domain.TaskResult) []domain.TaskResult {
	out := make([]domain.TaskResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	return out
}

// Close flushes both trace sinks and releases the storage clients. Call
// once, after the HTTP server has stopped accepting new requests. Uses a
// fresh background context rather than the caller's: by the time shutdown
// runs, that context is usually already canceled (it's what triggered the
// shutdown in the first place).
func (gw *Gateway) Close() error {
	for _, unsub := range gw.unsubscribe {
		unsub()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var firstErr error
	noteErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if gw.pulseBroadcaster != nil {
		noteErr(gw.pulseBroadcaster.Close(ctx))
	}
	gw.bus.Close()
	noteErr(gw.executionTraces.Close(ctx))
	noteErr(gw.algorithmTraces.Close(ctx))
	noteErr(gw.redisClient.Close())
	if gw.pulseRedisClient != nil {
		noteErr(gw.pulseRedisClient.Close())
	}
	noteErr(gw.mongoClient.Disconnect(ctx))
	return firstErr
}
