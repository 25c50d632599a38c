package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// DefaultCommandTimeout bounds one analyzer invocation.
const DefaultCommandTimeout = 2 * time.Minute

// CommandConsumer pipes each batch to an external analyzer command as JSON
// on stdin. The command line is configured once and parsed with shlex; the
// session ID is exported in the child's environment.
type CommandConsumer struct {
	argv           []string
	sessionID      string
	transcriptPath string
	timeout        time.Duration
	log            *logrus.Entry
}

// commandInput is the JSON document written to the analyzer's stdin.
type commandInput struct {
	SessionID      string    `json:"sessionId"`
	TranscriptPath string    `json:"transcriptPath,omitempty"`
	Phase          string    `json:"phase"` // "batch" or "finalize"
	Messages       []Message `json:"messages,omitempty"`
}

// NewCommandConsumer parses commandLine and returns a consumer for the
// given session. Returns an error if the command line is empty or
// unparsable.
func NewCommandConsumer(commandLine, sessionID, transcriptPath string) (*CommandConsumer, error) {
	argv, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("parse analyzer command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("analyzer command is empty")
	}
	return &CommandConsumer{
		argv:           argv,
		sessionID:      sessionID,
		transcriptPath: transcriptPath,
		timeout:        DefaultCommandTimeout,
		log: logrus.WithFields(logrus.Fields{
			"component": "analyzer",
			"session":   sessionID,
		}),
	}, nil
}

// ProcessBatch runs the analyzer once with the batch on stdin.
func (c *CommandConsumer) ProcessBatch(ctx context.Context, messages []Message) error {
	return c.run(ctx, commandInput{
		SessionID:      c.sessionID,
		TranscriptPath: c.transcriptPath,
		Phase:          "batch",
		Messages:       messages,
	})
}

// Finalize runs the analyzer once with phase=finalize and no messages.
func (c *CommandConsumer) Finalize(ctx context.Context) error {
	return c.run(ctx, commandInput{
		SessionID:      c.sessionID,
		TranscriptPath: c.transcriptPath,
		Phase:          "finalize",
	})
}

func (c *CommandConsumer) run(ctx context.Context, input commandInput) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal analyzer input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = append(os.Environ(),
		"SCRIBE_SESSION_ID="+c.sessionID,
		"SCRIBE_PHASE="+input.Phase,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.log.WithError(err).WithField("stderr", stderr.String()).
			Warn("analyzer command failed")
		return fmt.Errorf("analyzer %s: %w", input.Phase, err)
	}
	return nil
}
