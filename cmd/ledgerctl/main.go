// Command ledgerctl talks to a running ledgerd and computes client-side
// values such as commitments and admin signatures.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/auth"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/dispatch"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/server"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// #region commands
func rootCmd() *cobra.Command {
	var (
		grpcAddr string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Client for the PsycheScore ledger daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&grpcAddr, "addr", envOr("PSYCHESCORE_GRPC_ADDR", "localhost:50061"), "ledgerd gRPC address")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "call timeout")

	call := func(op string, args any) error {
		return callLedger(grpcAddr, timeout, op, args)
	}

	cmd.AddCommand(scoreCmd(call), verifyCmd(call), modelHashCmd(call), commitmentCmd(), identityCmd(), keygenCmd())
	return cmd
}

func scoreCmd(call func(string, any) error) *cobra.Command {
	var argsPath string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute and store a score from a JSON argument file (- for stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(argsPath)
			if err != nil {
				return err
			}
			var args json.RawMessage
			if err := json.Unmarshal(raw, &args); err != nil {
				return fmt.Errorf("parse %s: %w", argsPath, err)
			}
			return call(proofrec.OpComputeAndStoreScore, args)
		},
	}
	cmd.Flags().StringVarP(&argsPath, "file", "f", "-", "argument file")
	return cmd
}

func verifyCmd(call func(string, any) error) *cobra.Command {
	var (
		identity string
		address  string
		expected int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a stored score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := resolveIdentity(identity, address)
			if err != nil {
				return err
			}
			return call(proofrec.OpVerifyScore, dispatch.VerifyArgs{Identity: id, ExpectedScore: expected})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "identity (64 hex digits)")
	cmd.Flags().StringVar(&address, "address", "", "wallet address; the identity is derived from it")
	cmd.Flags().IntVar(&expected, "expected", 0, "expected score")
	cmd.MarkFlagsMutuallyExclusive("identity", "address")
	cmd.MarkFlagsOneRequired("identity", "address")
	return cmd
}

func modelHashCmd(call func(string, any) error) *cobra.Command {
	var (
		newHash  string
		previous string
		version  uint64
		keyID    string
		keyFile  string
		httpAddr string
	)
	cmd := &cobra.Command{
		Use:   "model-hash",
		Short: "Replace the model hash, signed with an admin key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nh, err := ledger.ParseModelHash(newHash)
			if err != nil {
				return err
			}
			var prev ledger.ModelHash
			if previous != "" {
				if version == 0 {
					return fmt.Errorf("--version is required with --previous")
				}
				if prev, err = ledger.ParseModelHash(previous); err != nil {
					return err
				}
			} else {
				var current uint64
				if prev, current, err = fetchModelHash(httpAddr); err != nil {
					return err
				}
				version = current + 1
			}
			priv, err := readPrivateKey(keyFile)
			if err != nil {
				return err
			}
			proof := auth.Sign(priv, keyID, auth.Payload{Operation: proofrec.OpUpdateModelHash, PreviousHash: prev, NewHash: nh, Version: version})
			return call(proofrec.OpUpdateModelHash, dispatch.ModelHashArgs{NewHash: nh, AdminProof: proof})
		},
	}
	cmd.Flags().StringVar(&newHash, "new-hash", "", "new model hash (hex)")
	cmd.Flags().StringVar(&previous, "previous", "", "current model hash; fetched from ledgerd when empty")
	cmd.Flags().Uint64Var(&version, "version", 0, "model version this update produces; required with --previous")
	cmd.Flags().StringVar(&keyID, "key-id", "", "admin key id")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "file holding the base64 private key")
	cmd.Flags().StringVar(&httpAddr, "http", envOr("PSYCHESCORE_HTTP_ADDR", "localhost:8090"), "ledgerd HTTP address")
	for _, f := range []string{"new-hash", "key-id", "key-file"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func commitmentCmd() *cobra.Command {
	var (
		binderName string
		responses  string
	)
	cmd := &cobra.Command{
		Use:   "commitment",
		Short: "Print the commitment of a survey",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := commit.ByName(binderName)
			if err != nil {
				return err
			}
			vals, err := parseInts(responses)
			if err != nil {
				return err
			}
			s, err := vector.NewSurvey(vals)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.Bind(s).Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&binderName, "binder", commit.MiMCName, "binder: mimc, keccak or sum")
	cmd.Flags().StringVar(&responses, "responses", "", "comma-separated survey responses")
	_ = cmd.MarkFlagRequired("responses")
	return cmd
}

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity <address>",
		Short: "Print the ledger identity of a wallet address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), ledger.IdentityFromAddress(args[0]).Hex())
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 admin key pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := auth.GenerateKey()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, []byte(base64.StdEncoding.EncodeToString(priv)+"\n"), 0o600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private key written to %s\npublic key (admin.keys value): %s\n", out, pub)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "admin.key", "private key file")
	return cmd
}

// #endregion commands

// #region helpers
func callLedger(addr string, timeout time.Duration, op string, args any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	in := &structpb.Struct{}
	if err := protojson.Unmarshal(b, in); err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := server.NewLedgerServiceClient(conn).Call(ctx, op, in)
	if err != nil {
		return err
	}
	rec, hash, callErr := server.ParseResponse(out)
	if hash == "" {
		return callErr
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"record_hash": hash, "record": rec}); err != nil {
		return err
	}
	return callErr
}

// fetchModelHash returns the current model hash and version from ledgerd.
func fetchModelHash(httpAddr string) (ledger.ModelHash, uint64, error) {
	var body struct {
		ModelHash ledger.ModelHash `json:"model_hash"`
		Version   uint64           `json:"version"`
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("http://" + httpAddr + "/v1/model-hash")
	if err != nil {
		return body.ModelHash, 0, fmt.Errorf("fetch model hash: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return body.ModelHash, 0, fmt.Errorf("fetch model hash: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return body.ModelHash, 0, fmt.Errorf("decode model hash: %w", err)
	}
	return body.ModelHash, body.Version, nil
}

func readPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%s: not a base64 Ed25519 private key", path)
	}
	return ed25519.PrivateKey(b), nil
}

// resolveIdentity parses a hex identity strictly. Only an explicit address
// is hashed into one.
func resolveIdentity(identity, address string) (ledger.Identity, error) {
	if address != "" {
		return ledger.IdentityFromAddress(address), nil
	}
	return ledger.ParseIdentity(identity)
}

func parseInts(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("response %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
