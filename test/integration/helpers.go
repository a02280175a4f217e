package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"Attestor/client"
	"Attestor/internal/committee"
	"Attestor/internal/hasher"
	"Attestor/internal/signature"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node is a running attestor process.
type Node struct {
	t          *testing.T         // t is the test context
	binaryPath string             // binaryPath is the compiled attestor binary
	configPath string             // configPath is the node's YAML config
	httpAddr   string             // httpAddr is the HTTP API address
	quicAddr   string             // quicAddr is the QUIC relay address
	cmd        *exec.Cmd          // cmd is the running process
	stdout     *safeBuffer        // stdout captures process output
	stderr     *safeBuffer        // stderr captures process errors
	cancel     context.CancelFunc // cancel stops the process
}

// nodeOpts configures a test node.
type nodeOpts struct {
	httpPort int                    // httpPort is the HTTP API port
	quicPort int                    // quicPort is the QUIC relay port
	domain   hasher.Hash            // domain is the gateway domain separator
	sets     []*committee.Committee // sets are the genesis verifier sets, oldest first
	operator string                 // operator may rotate without cooldown
	delay    time.Duration          // delay is the minimum rotation delay
}

// NewNode builds the binary, writes the config and verifier set files,
// and starts the node.
func NewNode(t *testing.T, opts nodeOpts) *Node {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dir := t.TempDir()

	sets := make([]string, len(opts.sets))
	for i, c := range opts.sets {
		sets[i] = fmt.Sprintf("set-%d.yaml", i)
		writeSetFile(t, filepath.Join(dir, sets[i]), c)
	}

	n := &Node{
		t:          t,
		binaryPath: buildBinary(t),
		configPath: filepath.Join(dir, "attestor.yaml"),
		httpAddr:   fmt.Sprintf("127.0.0.1:%d", opts.httpPort),
		quicAddr:   fmt.Sprintf("127.0.0.1:%d", opts.quicPort),
	}

	config := fmt.Sprintf(`data_dir: %s
http_addr: %s
quic_addr: %s
key_path: %s
hash: keccak256
log:
  level: debug
gateway:
  domain_separator: "%s"
  previous_verifier_set_retention: 2
  minimum_rotation_delay: %s
  operator: "%s"
  verifier_sets: [%s]
`, filepath.Join(dir, "data"), n.httpAddr, n.quicAddr, filepath.Join(dir, "relay.key"),
		opts.domain, opts.delay, opts.operator, strings.Join(sets, ", "))

	if err := os.WriteFile(n.configPath, []byte(config), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	n.Start()
	t.Cleanup(n.Stop)

	return n
}

// writeSetFile describes c as a verifier set file.
func writeSetFile(t *testing.T, path string, c *committee.Committee) {
	t.Helper()

	set := c.Set()

	var b strings.Builder
	fmt.Fprintf(&b, "nonce: %d\nquorum: %s\nsigners:\n", set.Nonce(), set.Quorum())

	for _, leaf := range set.Leaves() {
		fmt.Fprintf(&b, "  - public_key: %s\n    weight: %s\n", leaf.PublicKey, leaf.Weight)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		t.Fatalf("write set file: %v", err)
	}
}

// Start launches the process and waits for the API to answer.
func (n *Node) Start() {
	n.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	n.cancel = cancel
	n.stdout = &safeBuffer{}
	n.stderr = &safeBuffer{}
	n.cmd = exec.CommandContext(ctx, n.binaryPath, "serve", "--config", n.configPath)
	n.cmd.Stdout = n.stdout
	n.cmd.Stderr = n.stderr

	if err := n.cmd.Start(); err != nil {
		n.t.Fatalf("start node: %v", err)
	}

	// Wait in background so ProcessState gets set when the process exits.
	go n.cmd.Wait()

	c := n.Client()
	ok := waitFor(10*time.Second, func() bool {
		return c.Health(context.Background()) == nil
	})

	if !ok {
		n.t.Fatalf("node did not start:\nSTDOUT:\n%s\nSTDERR:\n%s", n.stdout.String(), n.stderr.String())
	}
}

// Stop terminates the process.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}

	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
		// Wait is already called by the background goroutine in Start.
		time.Sleep(100 * time.Millisecond)
	}
}

// Client returns an HTTP client for the node.
func (n *Node) Client() *client.Client {
	return client.NewClient(n.httpAddr)
}

// LogContains checks if the node's logs contain a substring.
func (n *Node) LogContains(s string) bool {
	return strings.Contains(n.stdout.String(), s)
}

// Run executes an attestor subcommand against the node's config and
// returns its combined output.
func (n *Node) Run(args ...string) (string, error) {
	args = append(args, "--config", n.configPath)
	out, err := exec.Command(n.binaryPath, args...).CombinedOutput()
	return string(out), err
}

// WriteKey stores c's private key at position in the node's directory.
func (n *Node) WriteKey(c *committee.Committee, position int) string {
	path := filepath.Join(filepath.Dir(n.configPath), fmt.Sprintf("signer-%d.key", position))
	if err := os.WriteFile(path, []byte(signature.EncodePrivateKey(c.Key(position))), 0600); err != nil {
		n.t.Fatalf("write key: %v", err)
	}
	return path
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}

	return cond()
}

var (
	binaryOnce sync.Once
	binaryPath string
	binaryErr  error
)

// buildBinary compiles cmd/attestor once per test run.
func buildBinary(t *testing.T) string {
	t.Helper()

	binaryOnce.Do(func() {
		dir, err := os.MkdirTemp("", "attestor_test_*")
		if err != nil {
			binaryErr = err
			return
		}

		binaryPath = filepath.Join(dir, "attestor")

		cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/attestor")
		cmd.Dir = getProjectRoot(t)

		if output, err := cmd.CombinedOutput(); err != nil {
			binaryErr = fmt.Errorf("build failed: %v\n%s", err, output)
		}
	})

	if binaryErr != nil {
		t.Fatalf("%v", binaryErr)
	}

	return binaryPath
}

// getProjectRoot returns the project root directory (containing go.mod).
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}
