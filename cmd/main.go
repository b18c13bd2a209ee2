package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"campus-assistant/handler"
	"campus-assistant/internal/integrations/gemini"
	"campus-assistant/internal/integrations/openai"
	"campus-assistant/internal/integrations/paramstore"
	"campus-assistant/internal/integrations/pinecone"
	"campus-assistant/internal/logger"
	"campus-assistant/internal/pipeline"
	"campus-assistant/internal/repository"
	"campus-assistant/internal/usecase"
)

func main() {
	ctx := context.Background()

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	// ---- Configuration (read only here) ----
	checkpointTable := mustEnv(log, "CHECKPOINT_TABLE")
	personalHistoryTable := mustEnv(log, "PERSONAL_HISTORY_TABLE")
	paramPrefix := mustEnv(log, "PARAM_PREFIX")
	indexHost := mustEnv(log, "PINECONE_INDEX_HOST")
	namespace := os.Getenv("PINECONE_NAMESPACE")
	provider := strings.ToLower(envString("LLM_PROVIDER", "gemini"))
	capabilityTimeout := envDuration("CAPABILITY_TIMEOUT", 30*time.Second)
	persistTimeout := envDuration("PERSIST_TIMEOUT", 10*time.Second)
	searchConcurrency := envInt("SEARCH_CONCURRENCY", 1)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fatal(log, "failed to load AWS config", err)
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(cfg), paramPrefix)
	if err != nil {
		fatal(log, "failed to create SSM client", err)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	checkpoints, err := repository.NewCheckpointClient(dynamoClient, checkpointTable)
	if err != nil {
		fatal(log, "failed to create checkpoint client", err)
	}
	personalHistory, err := repository.NewRecencyClient(dynamoClient, personalHistoryTable)
	if err != nil {
		fatal(log, "failed to create personal history client", err)
	}

	pineconeToken, err := params.Token(pinecone.TokenParameter)
	if err != nil {
		fatal(log, "failed to configure Pinecone token", err)
	}
	index, err := pinecone.New(pinecone.Config{
		Token:     pineconeToken,
		Host:      indexHost,
		Namespace: namespace,
		Timeout:   capabilityTimeout,
		Logger:    log,
	})
	if err != nil {
		fatal(log, "failed to create Pinecone client", err)
	}

	caps, err := newCapabilities(provider, params)
	if err != nil {
		fatal(log, "failed to create model clients", err)
	}

	// ---- Services ----
	turnPipeline, err := pipeline.New(pipeline.Config{
		Embedder:          caps.embedder,
		Searcher:          index,
		ScopeCompleter:    caps.scope,
		AnswerCompleter:   caps.answer,
		CapabilityTimeout: capabilityTimeout,
		SearchConcurrency: searchConcurrency,
		Logger:            log.With("component", "pipeline"),
	})
	if err != nil {
		fatal(log, "failed to create pipeline", err)
	}

	recent, err := usecase.NewRecentService(personalHistory)
	if err != nil {
		fatal(log, "failed to create recent service", err)
	}
	chat, err := usecase.NewChatService(checkpoints, turnPipeline, log.With("component", "chat"),
		usecase.WithRecency(recent),
		usecase.WithPersistTimeout(persistTimeout),
	)
	if err != nil {
		fatal(log, "failed to create chat service", err)
	}
	history, err := usecase.NewHistoryService(checkpoints, log.With("component", "history"))
	if err != nil {
		fatal(log, "failed to create history service", err)
	}
	health, err := usecase.NewHealthService(map[string]usecase.Pinger{
		"checkpoints":      checkpoints,
		"personal_history": personalHistory,
		"vector_index":     index,
	})
	if err != nil {
		fatal(log, "failed to create health service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(handler.Services{
		Chat:    chat,
		History: history,
		Recent:  recent,
		Health:  health,
	}, log.With("component", "handler"))
	if err != nil {
		fatal(log, "failed to create handler", err)
	}

	log.Info("starting lambda", "provider", provider, "checkpoint_table", checkpointTable)
	lambda.Start(h.Handle)
}

type capabilities struct {
	embedder pipeline.Embedder
	scope    pipeline.Completer
	answer   pipeline.Completer
}

func newCapabilities(provider string, params *paramstore.Client) (capabilities, error) {
	switch provider {
	case "gemini":
		token, err := params.Token(gemini.TokenParameter)
		if err != nil {
			return capabilities{}, err
		}
		client, err := gemini.NewClient(token, gemini.WithTemperature(0))
		if err != nil {
			return capabilities{}, err
		}
		chatModel := envString("CHAT_MODEL", "gemini-3-pro-preview")
		return capabilities{
			embedder: gemini.Embedder{Client: client, Model: envString("EMBEDDING_MODEL", "gemini-embedding-001")},
			scope:    gemini.Completer{Client: client, Model: envString("SCOPE_MODEL", chatModel)},
			answer:   gemini.Completer{Client: client, Model: chatModel},
		}, nil
	case "openai":
		token, err := params.Token(openai.TokenParameter)
		if err != nil {
			return capabilities{}, err
		}
		opts := []openai.Option{openai.WithTemperature(0)}
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			opts = append(opts, openai.WithBaseURL(base))
		}
		client, err := openai.NewClient(token, opts...)
		if err != nil {
			return capabilities{}, err
		}
		chatModel := envString("CHAT_MODEL", "gpt-4o-mini")
		return capabilities{
			embedder: openai.Embedder{Client: client, Model: envString("EMBEDDING_MODEL", "text-embedding-3-small")},
			scope:    openai.Completer{Client: client, Model: envString("SCOPE_MODEL", chatModel)},
			answer:   openai.Completer{Client: client, Model: chatModel},
		}, nil
	default:
		return capabilities{}, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
	}
}

func fatal(log *logger.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	log.Sync()
	os.Exit(1)
}

func mustEnv(log *logger.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Error("required environment variable is not set", "key", key)
		log.Sync()
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envDuration accepts Go duration strings or a plain number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n := envInt(key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
