package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"voicechat/core"
	"voicechat/factories"
	"voicechat/transports/websocket/remote"
)

const chatHelp = `Commands:
  /doc <file>   ground answers on a PDF or text file
  /doc          drop the document and go back to the conversation
  /clear        erase the conversation
  /history      show the conversation
  /quit         leave`

// conversation is what the terminal front end drives: an engine in this
// process or one behind a websocket server.
type conversation interface {
	Submit(ctx context.Context, text string, onChunk func(string)) (chatReply, error)
	Clear(ctx context.Context) error
	Transcript(ctx context.Context) ([]core.Turn, error)
	LoadDocument(ctx context.Context, name string, data []byte) (int, error)
	DropDocument(ctx context.Context) error
}

type chatReply struct {
	Text      string
	AudioPath string
}

type localConversation struct {
	session *factories.Session
}

func (l localConversation) Submit(ctx context.Context, text string, onChunk func(string)) (chatReply, error) {
	result, err := l.session.Engine.SubmitTurn(ctx, text, onChunk)
	reply := chatReply{Text: result.Text}
	if result.Audio != nil {
		reply.AudioPath = result.Audio.Path
	}
	return reply, err
}

func (l localConversation) Clear(ctx context.Context) error {
	return l.session.Engine.ClearHistory(ctx)
}

func (l localConversation) Transcript(context.Context) ([]core.Turn, error) {
	return l.session.Engine.Transcript(), nil
}

func (l localConversation) LoadDocument(ctx context.Context, _ string, data []byte) (int, error) {
	text, err := l.session.Extractor.Extract(ctx, data)
	if err != nil {
		return 0, err
	}
	l.session.Engine.SetDocumentContext(text)
	return len(text), nil
}

func (l localConversation) DropDocument(context.Context) error {
	l.session.Engine.SetDocumentContext("")
	return nil
}

type remoteConversation struct {
	client *remote.Client
}

func (r remoteConversation) Submit(ctx context.Context, text string, onChunk func(string)) (chatReply, error) {
	result, err := r.client.Submit(ctx, text, onChunk)
	return chatReply{Text: result.Text, AudioPath: result.AudioPath}, err
}

func (r remoteConversation) Clear(ctx context.Context) error {
	_, err := r.client.Clear(ctx)
	return err
}

func (r remoteConversation) Transcript(ctx context.Context) ([]core.Turn, error) {
	return r.client.Transcript(ctx)
}

func (r remoteConversation) LoadDocument(ctx context.Context, name string, data []byte) (int, error) {
	sess, err := r.client.UploadDocument(ctx, filepath.Base(name), data)
	return sess.DocumentLength, err
}

func (r remoteConversation) DropDocument(ctx context.Context) error {
	_, err := r.client.SetDocument(ctx, "")
	return err
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := opts.loadSettings()
			logger, closeLogs := setupLogger(settings, os.Stderr, core.LevelWarn, nil)
			defer closeLogs()

			ctx := cmd.Context()
			s, err := settings.BuildSession(ctx, nil, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			state, err := s.Engine.LoadSession(ctx)
			if err != nil {
				// The conversation still works; it just starts empty.
				fmt.Fprintf(cmd.ErrOrStderr(), "could not load history: %v\n", err)
			}

			repl := newChatREPL(localConversation{session: s}, cmd)
			repl.greet(state.ModelID, state.Transcript)
			return repl.run(ctx)
		},
	}
}

func newConnectCommand(opts *rootOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Talk to an assistant served by `voicechat serve`",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.loadEnv()
			settings := factories.DefaultSettingsConfig()
			logger, closeLogs := setupLogger(settings, os.Stderr, core.LevelWarn, nil)
			defer closeLogs()

			ctx := cmd.Context()
			client := remote.NewClient(remote.ClientConfig{URL: serverURL, Logger: logger})
			if err := client.Dial(ctx); err != nil {
				return err
			}
			defer client.Close()

			sess, err := client.Load(ctx)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "could not load history: %v\n", err)
			}

			repl := newChatREPL(remoteConversation{client: client}, cmd)
			repl.greet(sess.Model, sess.Transcript)
			return repl.run(ctx)
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "ws://127.0.0.1:8080/ws", "websocket URL of the server")
	return cmd
}

type chatREPL struct {
	conv   conversation
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func newChatREPL(conv conversation, cmd *cobra.Command) *chatREPL {
	return &chatREPL{
		conv:   conv,
		in:     cmd.InOrStdin(),
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
}

func (r *chatREPL) greet(model string, turns []core.Turn) {
	fmt.Fprintf(r.out, "Chatting with %s. Type /help for commands.\n", model)
	if len(turns) > 0 {
		fmt.Fprint(r.out, renderTranscript(turns))
	}
}

func (r *chatREPL) run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "👤 ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "/") {
			if quit := r.command(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
			continue
		}
		r.submit(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// command runs a slash command and reports whether the loop should stop.
func (r *chatREPL) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/clear":
		if err := r.conv.Clear(ctx); err != nil {
			fmt.Fprintf(r.errOut, "clear failed: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "Conversation cleared.")
	case "/history":
		turns, err := r.conv.Transcript(ctx)
		if err != nil {
			fmt.Fprintf(r.errOut, "history: %v\n", err)
			return false
		}
		if len(turns) == 0 {
			fmt.Fprintln(r.out, "No conversation yet.")
			return false
		}
		fmt.Fprint(r.out, renderTranscript(turns))
	case "/doc":
		if arg == "" {
			if err := r.conv.DropDocument(ctx); err != nil {
				fmt.Fprintf(r.errOut, "drop document: %v\n", err)
				return false
			}
			fmt.Fprintln(r.out, "Document dropped.")
			return false
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			fmt.Fprintf(r.errOut, "read %s: %v\n", arg, err)
			return false
		}
		chars, err := r.conv.LoadDocument(ctx, arg, data)
		if err != nil {
			fmt.Fprintf(r.errOut, "extract %s: %v\n", arg, err)
			return false
		}
		if chars == 0 {
			fmt.Fprintf(r.out, "%s has no extractable text; answering from the conversation.\n", arg)
			return false
		}
		fmt.Fprintf(r.out, "Loaded %s (%d characters). Questions are now answered from it.\n", arg, chars)
	default:
		fmt.Fprintf(r.errOut, "unknown command %s\n%s\n", name, chatHelp)
	}
	return false
}

func (r *chatREPL) submit(ctx context.Context, text string) {
	started := false
	reply, err := r.conv.Submit(ctx, text, func(chunk string) {
		if !started {
			fmt.Fprint(r.out, "🤖 ")
			started = true
		}
		fmt.Fprint(r.out, chunk)
	})
	if started {
		fmt.Fprintln(r.out)
	}

	var (
		emptyErr   *core.EmptyInputError
		modelErr   *core.ModelCallError
		persistErr *core.PersistenceError
	)
	switch {
	case errors.As(err, &emptyErr):
		return
	case errors.As(err, &modelErr):
		fmt.Fprintf(r.errOut, "the model did not answer: %v\n", modelErr.Err)
		return
	case errors.As(err, &persistErr):
		fmt.Fprintf(r.errOut, "reply not saved: %v\n", persistErr.Err)
	case err != nil:
		fmt.Fprintf(r.errOut, "turn failed: %v\n", err)
		return
	}
	if !started {
		fmt.Fprintf(r.out, "🤖 %s\n", reply.Text)
	}
	if reply.AudioPath != "" {
		fmt.Fprintf(r.out, "🔊 %s\n", reply.AudioPath)
	}
}
