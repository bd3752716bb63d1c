package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lkarlslund/kagi-proxy/pkg/config"
	"github.com/lkarlslund/kagi-proxy/pkg/version"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

var (
	chatConfigPath string
	chatServerURL  string
	chatModel      string
	chatSystem     string
	chatNoStream   bool
)

func init() {
	chatCmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Send a prompt through a running proxy",
		Long:  "Send a prompt through a running proxy and print the reply. Without arguments the prompt is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig(chatConfigPath)
			if err != nil {
				return fmt.Errorf("load client config: %w", err)
			}
			if cmd.Flags().Changed("server") {
				cfg.ServerURL = chatServerURL
			}
			if cmd.Flags().Changed("model") {
				cfg.Model = chatModel
			}
			cfg.Normalize()

			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				prompt = strings.TrimSpace(string(b))
			}
			if prompt == "" {
				return errors.New("prompt is empty")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cmd.OutOrStdout(), cfg, chatSystem, prompt, !chatNoStream)
		},
	}
	chatCmd.Flags().StringVar(&chatConfigPath, "config", config.DefaultClientConfigPath(), "Client config TOML path")
	chatCmd.Flags().StringVar(&chatServerURL, "server", "", "Proxy /v1 URL (overrides config server_url)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model id (default: the proxy's default model)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "Optional system prompt")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "Wait for the full reply instead of streaming")
	rootCmd.AddCommand(chatCmd)
}

func newOpenAIClient(serverURL string) *openai.Client {
	oc := openai.DefaultConfig("kagi-proxy")
	oc.BaseURL = serverURL
	oc.HTTPClient = &http.Client{Transport: userAgentTransport{base: http.DefaultTransport, agent: version.UserAgent()}}
	return openai.NewClientWithConfig(oc)
}

func runChat(ctx context.Context, out io.Writer, cfg *config.ClientConfig, system, prompt string, stream bool) error {
	client := newOpenAIClient(cfg.ServerURL)
	req := openai.ChatCompletionRequest{Model: cfg.Model}
	if strings.TrimSpace(system) != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	if !stream {
		resp, err := client.CreateChatCompletion(ctx, req)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("chat completion: empty response")
		}
		_, err = fmt.Fprintln(out, resp.Choices[0].Message.Content)
		return err
	}

	s, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("chat completion stream: %w", err)
	}
	defer s.Close()
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("chat completion stream: %w", err)
		}
		for _, c := range chunk.Choices {
			if _, err := io.WriteString(out, c.Delta.Content); err != nil {
				return err
			}
		}
	}
	_, err = fmt.Fprintln(out)
	return err
}

type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(out)
}
