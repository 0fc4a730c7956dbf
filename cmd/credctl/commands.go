package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"sumbandila/internal/credential/canonical"
	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/issuance"
	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/payload"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/credential/verifier"
	"sumbandila/internal/platform/config"
	"sumbandila/internal/platform/kafka/producer"
	"sumbandila/internal/platform/logger"
	"sumbandila/internal/registry/events"
	"sumbandila/internal/registry/store"
)

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) logger() *slog.Logger {
	return logger.NewWithWriter(c.stderr, "warn")
}

func loadConfig() (*config.Config, error) {
	return config.Load(os.Getenv("SUMBANDILA_CONFIG"))
}

// readRecord reads a JSON record from path, or from stdin when path is "-".
func (c *cli) readRecord(path string) (models.Record, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(c.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return canonical.ParseJSON(data)
}

func parseHashVersion(v int) (models.HashVersion, error) {
	version := models.HashVersion(v)
	if !version.IsValid() {
		return 0, fmt.Errorf("unsupported hash version %d", v)
	}
	return version, nil
}

type keygenOutput struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	PrivateKey string `json:"private_key,omitempty"`
	PublicKey  string `json:"public_key"`
}

func (c *cli) keygen(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fs := c.flags("keygen")
	alg := fs.String("alg", cfg.Credential.Algorithm, "Signature algorithm: RS256, ES256 or EdDSA")
	keyID := fs.String("key-id", "", "Key ID. Generated if empty.")
	out := fs.String("out", "", "Write the private key PEM to this file (mode 0600) instead of stdout")
	pubOut := fs.String("pub", "", "Write the public key PEM to this file")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	algorithm, err := models.ParseSignatureAlgorithm(*alg)
	if err != nil {
		return err
	}
	key, err := signing.GenerateKey(algorithm, models.KeyID(*keyID))
	if err != nil {
		return err
	}
	privPEM, err := key.MarshalPEM()
	if err != nil {
		return err
	}
	pubPEM, err := key.Public().MarshalPEM()
	if err != nil {
		return err
	}

	output := keygenOutput{
		KeyID:     key.KeyID().String(),
		Algorithm: string(key.Algorithm()),
		PublicKey: string(pubPEM),
	}
	if *out != "" {
		if err := os.WriteFile(*out, privPEM, 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
	} else {
		output.PrivateKey = string(privPEM)
	}
	if *pubOut != "" {
		if err := os.WriteFile(*pubOut, pubPEM, 0o644); err != nil {
			return fmt.Errorf("write public key: %w", err)
		}
	}

	if *jsonOutput {
		return c.printJSON(output)
	}
	fmt.Fprintf(c.stdout, "Key ID:    %s\n", output.KeyID)
	fmt.Fprintf(c.stdout, "Algorithm: %s\n", output.Algorithm)
	if *out != "" {
		fmt.Fprintf(c.stdout, "Private:   %s\n", *out)
	} else {
		fmt.Fprintln(c.stdout)
		fmt.Fprint(c.stdout, output.PrivateKey)
	}
	if *pubOut != "" {
		fmt.Fprintf(c.stdout, "Public:    %s\n", *pubOut)
	} else {
		fmt.Fprintln(c.stdout)
		fmt.Fprint(c.stdout, output.PublicKey)
	}
	return nil
}

type fingerprintOutput struct {
	Fingerprint string `json:"fingerprint"`
	HashVersion int    `json:"hash_version"`
	Canonical   string `json:"canonical,omitempty"`
}

func (c *cli) fingerprint(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fs := c.flags("fingerprint")
	recordPath := fs.String("record", "-", `JSON record file, or "-" for stdin`)
	hashVersion := fs.Int("hash-version", cfg.Credential.HashVersion, "Hash version: 1 (SHA-256) or 2 (SHA3-256)")
	showCanonical := fs.Bool("canonical", false, "Also print the canonical form")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	version, err := parseHashVersion(*hashVersion)
	if err != nil {
		return err
	}
	record, err := c.readRecord(*recordPath)
	if err != nil {
		return err
	}
	fp, form, err := fingerprint.Of(version, record)
	if err != nil {
		return err
	}

	output := fingerprintOutput{Fingerprint: fp.Tagged(), HashVersion: int(fp.Version)}
	if *showCanonical {
		output.Canonical = string(form)
	}
	if *jsonOutput {
		return c.printJSON(output)
	}
	fmt.Fprintln(c.stdout, output.Fingerprint)
	if *showCanonical {
		fmt.Fprintln(c.stdout, output.Canonical)
	}
	return nil
}

type issueOutput struct {
	Issuer      string `json:"issuer"`
	Fingerprint string `json:"fingerprint"`
	KeyID       string `json:"key_id"`
	Algorithm   string `json:"algorithm"`
	Signature   string `json:"signature"`
	Mode        string `json:"mode"`
	Payload     string `json:"payload"`
}

func (c *cli) issue(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fs := c.flags("issue")
	issuer := fs.String("issuer", "", "Issuer ID (required)")
	keyPath := fs.String("key", "", "Private key PEM file (required)")
	keyID := fs.String("key-id", "", "Key ID of the private key (required)")
	recordPath := fs.String("record", "-", `JSON record file, or "-" for stdin`)
	mode := fs.String("mode", cfg.Credential.PayloadMode, "Payload mode: compact or full")
	hashVersion := fs.Int("hash-version", cfg.Credential.HashVersion, "Hash version: 1 (SHA-256) or 2 (SHA3-256)")
	databaseURL := fs.String("database-url", cfg.Database.URL, "Store the record in the registry database")
	register := fs.Bool("register-key", false, "Also register the public key in the registry database")
	brokers := fs.String("kafka-brokers", cfg.Kafka.Brokers, "Publish the issuance event to Kafka")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *issuer == "" || *keyPath == "" || *keyID == "" {
		return errors.New("-issuer, -key and -key-id are required")
	}

	version, err := parseHashVersion(*hashVersion)
	if err != nil {
		return err
	}
	issuerID, err := models.ParseIssuerID(*issuer)
	if err != nil {
		return err
	}
	pemData, err := os.ReadFile(*keyPath)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	key, err := signing.ParsePrivateKeyPEM(pemData, models.KeyID(*keyID))
	if err != nil {
		return err
	}
	record, err := c.readRecord(*recordPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	keys := signing.NewStaticKeyProvider()
	keys.Set(issuerID, key)

	var sinks issuance.MultiSink
	if *databaseURL != "" {
		reg, err := openPostgres(ctx, *databaseURL)
		if err != nil {
			return err
		}
		defer reg.close()
		if *register {
			if err := reg.pg.RegisterKey(ctx, issuerID, key.Public()); err != nil {
				return fmt.Errorf("register key: %w", err)
			}
		}
		sinks = append(sinks, issuance.NewRecordSink(reg.pg))
	}
	if *brokers != "" {
		pcfg := cfg.Kafka.Producer()
		pcfg.Brokers = *brokers
		prod, err := producer.New(pcfg, c.logger())
		if err != nil {
			return err
		}
		defer prod.Close()
		sinks = append(sinks, events.NewKafkaSink(prod, events.WithSinkLogger(c.logger())))
	}

	opts := []issuance.Option{
		issuance.WithHashVersion(version),
		issuance.WithLogger(c.logger()),
	}
	if len(sinks) > 0 {
		opts = append(opts, issuance.WithSink(sinks))
	}
	svc, err := issuance.New(keys, opts...)
	if err != nil {
		return err
	}
	cred, err := svc.Issue(ctx, issuance.IssueRequest{Issuer: issuerID, Record: record, Mode: *mode})
	if err != nil {
		return err
	}

	output := issueOutput{
		Issuer:      cred.Issuer.String(),
		Fingerprint: cred.Fingerprint.Tagged(),
		KeyID:       cred.Signature.KeyID.String(),
		Algorithm:   string(cred.Signature.Algorithm),
		Signature:   cred.Signature.Value,
		Mode:        cred.Mode.String(),
		Payload:     cred.Payload,
	}
	if *jsonOutput {
		return c.printJSON(output)
	}
	fmt.Fprintln(c.stdout, "Credential")
	fmt.Fprintln(c.stdout, "==========")
	fmt.Fprintf(c.stdout, "Issuer:      %s\n", output.Issuer)
	fmt.Fprintf(c.stdout, "Fingerprint: %s\n", output.Fingerprint)
	fmt.Fprintf(c.stdout, "Key ID:      %s\n", output.KeyID)
	fmt.Fprintf(c.stdout, "Algorithm:   %s\n", output.Algorithm)
	fmt.Fprintf(c.stdout, "Signature:   %s\n", output.Signature)
	fmt.Fprintf(c.stdout, "Mode:        %s\n", output.Mode)
	fmt.Fprintln(c.stdout)
	fmt.Fprintln(c.stdout, "Payload:")
	fmt.Fprintln(c.stdout, output.Payload)
	return nil
}

type verifyOutput struct {
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason"`
	Retryable   bool   `json:"retryable,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Issuer      string `json:"issuer,omitempty"`
	KeyID       string `json:"key_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// verify returns exitInvalid for an invalid verdict so scripts can tell a
// rejected credential from a failed invocation.
func (c *cli) verify(args []string) int {
	verdict, jsonOutput, err := c.runVerify(args)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitError
	}

	output := verifyOutput{
		Valid:     verdict.Valid,
		Reason:    verdict.Reason.String(),
		Retryable: verdict.Reason.Retryable(),
		Detail:    verdict.Detail,
		Issuer:    verdict.Issuer.String(),
		KeyID:     verdict.KeyID.String(),
	}
	if !verdict.Fingerprint.IsZero() {
		output.Fingerprint = verdict.Fingerprint.Tagged()
	}

	if jsonOutput {
		if err := c.printJSON(output); err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return exitError
		}
	} else if verdict.Valid {
		fmt.Fprintf(c.stdout, "VALID   issuer=%s key_id=%s fingerprint=%s\n", output.Issuer, output.KeyID, output.Fingerprint)
	} else {
		fmt.Fprintf(c.stdout, "INVALID reason=%s", output.Reason)
		if output.Detail != "" {
			fmt.Fprintf(c.stdout, " detail=%q", output.Detail)
		}
		fmt.Fprintln(c.stdout)
	}

	if !verdict.Valid {
		return exitInvalid
	}
	return exitOK
}

func (c *cli) runVerify(args []string) (models.Verdict, bool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return models.Verdict{}, false, err
	}

	fs := c.flags("verify")
	encoded := fs.String("payload", "", "Encoded credential payload")
	recordPath := fs.String("record", "", `Claimed JSON record file, or "-" for stdin`)
	sigValue := fs.String("signature", "", "Base64 signature (when verifying a record without a payload)")
	alg := fs.String("alg", cfg.Credential.Algorithm, "Signature algorithm of -signature")
	issuer := fs.String("issuer", "", "Issuer ID. Read from the payload if empty.")
	keyID := fs.String("key-id", "", "Key ID. Read from the payload if empty.")
	hashVersion := fs.Int("hash-version", cfg.Credential.HashVersion, "Hash version of -signature")
	pubPath := fs.String("pub", "", "Issuer public key PEM file for offline verification")
	databaseURL := fs.String("database-url", cfg.Database.URL, "Verify against the registry database")
	redisURL := fs.String("redis-url", cfg.Redis.URL, "Cache registry keys in Redis")
	timeout := fs.Duration("timeout", cfg.Credential.RegistryTimeout, "Registry call timeout")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return models.Verdict{}, false, err
	}

	if (*encoded == "") == (*sigValue == "") {
		return models.Verdict{}, *jsonOutput, errors.New("exactly one of -payload and -signature is required")
	}

	var claimed models.Record
	if *recordPath != "" {
		if claimed, err = c.readRecord(*recordPath); err != nil {
			return models.Verdict{}, *jsonOutput, err
		}
	}

	issuerID := models.IssuerID(strings.TrimSpace(*issuer))
	kid := models.KeyID(*keyID)
	if *encoded != "" && (issuerID == "" || kid == "") {
		// Offline key registration needs the payload's issuer and key id;
		// a malformed payload is reported by the verifier itself.
		if p, err := payload.Decode(*encoded); err == nil {
			if issuerID == "" {
				issuerID = p.Issuer
			}
			if kid == "" {
				kid = p.Signature.KeyID
			}
		}
	}

	ctx := context.Background()
	var (
		registry verifier.Registry
		records  verifier.RecordSource
	)
	switch {
	case *databaseURL != "":
		reg, err := openRegistry(ctx, cfg, *databaseURL, *redisURL, c.logger())
		if err != nil {
			return models.Verdict{}, *jsonOutput, err
		}
		defer reg.close()
		registry, records = reg.resilient, reg.resilient
	case *pubPath != "":
		if issuerID == "" {
			return models.Verdict{}, *jsonOutput, errors.New("-issuer is required with -pub")
		}
		pemData, err := os.ReadFile(*pubPath)
		if err != nil {
			return models.Verdict{}, *jsonOutput, fmt.Errorf("read public key: %w", err)
		}
		pubKID := kid
		if pubKID == "" {
			// Signatures without a key id resolve the issuer's active key.
			pubKID = "offline"
		}
		pub, err := signing.ParsePublicKeyPEM(pemData, pubKID)
		if err != nil {
			return models.Verdict{}, *jsonOutput, err
		}
		mem := store.NewInMemory()
		if err := mem.RegisterKey(ctx, issuerID, pub); err != nil {
			return models.Verdict{}, *jsonOutput, err
		}
		registry, records = mem, mem
	default:
		return models.Verdict{}, *jsonOutput, errors.New("one of -pub and -database-url is required")
	}

	v, err := verifier.New(registry,
		verifier.WithRecordSource(records),
		verifier.WithRegistryTimeout(*timeout),
		verifier.WithExpiryField(cfg.Credential.ExpiryField),
		verifier.WithLogger(c.logger()),
	)
	if err != nil {
		return models.Verdict{}, *jsonOutput, err
	}

	if *encoded != "" {
		return v.VerifyPayload(ctx, *encoded, claimed), *jsonOutput, nil
	}

	if claimed == nil {
		return models.Verdict{}, *jsonOutput, errors.New("-record is required with -signature")
	}
	algorithm, err := models.ParseSignatureAlgorithm(*alg)
	if err != nil {
		return models.Verdict{}, *jsonOutput, err
	}
	version, err := parseHashVersion(*hashVersion)
	if err != nil {
		return models.Verdict{}, *jsonOutput, err
	}
	return v.Verify(ctx, verifier.Request{
		Record:      claimed,
		Signature:   models.Signature{Algorithm: algorithm, KeyID: kid, Value: *sigValue},
		Issuer:      issuerID,
		HashVersion: version,
	}), *jsonOutput, nil
}
