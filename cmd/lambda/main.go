package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"

	"emails-sync/internal/api"
	"emails-sync/internal/app"
	"emails-sync/internal/config"
	"emails-sync/internal/logging"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

var GitCommit string

var errUnavailable = errors.New("sync unavailable")

// lazyHandler builds the handler on first use and keeps it for the life of a
// warm container. A failed setup is retried on the next invocation.
type lazyHandler struct {
	mu      sync.Mutex
	handler *invocationHandler
	setup   func(ctx context.Context) (*invocationHandler, error)
}

func (l *lazyHandler) get(ctx context.Context) (*invocationHandler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handler != nil {
		return l.handler, nil
	}
	h, err := l.setup(ctx)
	if err != nil {
		return nil, err
	}
	l.handler = h
	return h, nil
}

// serve logs setup errors and answers 503 without their details
func (l *lazyHandler) serve(ctx context.Context, req awsevents.APIGatewayProxyRequest) (awsevents.APIGatewayProxyResponse, error) {
	h, err := l.get(ctx)
	if err != nil {
		logging.Log.WithError(err).Error("Error initializing")
		_, resp := api.NewResponse("", nil, errUnavailable)
		return respond(http.StatusServiceUnavailable, resp)
	}
	return h.handle(ctx, req)
}

var lazy = &lazyHandler{setup: setup}

type invocationHandler struct {
	runner api.Runner
	auth   *api.Authorizer
	label  string
}

func (h *invocationHandler) handle(ctx context.Context, req awsevents.APIGatewayProxyRequest) (awsevents.APIGatewayProxyResponse, error) {
	if err := h.auth.Verify(authorizationHeader(req.Headers)); err != nil {
		logging.Log.Warnf("Rejected sync invocation: %v", err)
		return respond(api.NewResponse(h.label, nil, err))
	}

	result, err := h.runner.RunSyncPass(ctx)
	if err != nil {
		logging.Log.WithError(err).Error("Sync pass failed")
	}
	return respond(api.NewResponse(h.label, result, err))
}

func authorizationHeader(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			return v
		}
	}
	return ""
}

func respond(status int, resp api.Response) (awsevents.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return awsevents.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, err
	}
	return awsevents.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}, nil
}

func setup(ctx context.Context) (*invocationHandler, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)

	auth, err := api.NewAuthorizer(cfg.Auth)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &invocationHandler{runner: a.Engine, auth: auth, label: cfg.Sync.SourceTag}, nil
}

func HandleRequest(ctx context.Context, req awsevents.APIGatewayProxyRequest) (awsevents.APIGatewayProxyResponse, error) {
	return lazy.serve(ctx, req)
}

func main() {
	logging.Log.Infof("emails-sync version %s", GitCommit)
	lambda.Start(HandleRequest)
}
