package e2e

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"sumbandila/internal/credential/canonical"
	"sumbandila/internal/credential/issuance"
	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	registry "sumbandila/internal/registry/models"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Setup steps
	ctx.Step(`^issuer "([^"]*)" registers an? "([^"]*)" key "([^"]*)"$`, tc.issuerRegistersKey)
	ctx.Step(`^today is "([^"]*)"$`, tc.todayIs)
	ctx.Step(`^the record:$`, tc.theRecord)

	// Lifecycle steps
	ctx.Step(`^"([^"]*)" issues the record as a (compact|full) credential$`, tc.issuesRecord)
	ctx.Step(`^the issuer revokes the credential because "([^"]*)"$`, tc.revokesCredential)
	ctx.Step(`^the registry becomes unavailable$`, func(context.Context) error { tc.Outage.setDown(true); return nil })
	ctx.Step(`^the registry recovers$`, func(context.Context) error { tc.Outage.setDown(false); return nil })

	// Presentation steps
	ctx.Step(`^the holder presents the credential$`, tc.presentsCredential)
	ctx.Step(`^the holder presents the credential with the record$`, tc.presentsWithRecord)
	ctx.Step(`^the holder presents the credential with "([^"]*)" changed to "([^"]*)"$`, tc.presentsTampered)

	// Assertion steps
	ctx.Step(`^issuance should fail$`, tc.issuanceShouldFail)
	ctx.Step(`^the verdict should be valid$`, tc.verdictShouldBeValid)
	ctx.Step(`^the verdict should be invalid with reason "([^"]*)"$`, tc.verdictShouldBeInvalid)
	ctx.Step(`^the verdict should be retryable$`, tc.verdictShouldBeRetryable)
	ctx.Step(`^the verdict key should be "([^"]*)"$`, tc.verdictKeyShouldBe)
	ctx.Step(`^the fingerprint should start with "([^"]*)"$`, tc.fingerprintShouldStartWith)
	ctx.Step(`^(\d+) "([^"]*)" events? should have been published to "([^"]*)"$`, tc.eventsPublished)
}

func (tc *TestContext) issuerRegistersKey(ctx context.Context, issuer, alg, keyID string) error {
	algorithm, err := models.ParseSignatureAlgorithm(alg)
	if err != nil {
		return err
	}
	key, err := signing.GenerateKey(algorithm, models.KeyID(keyID))
	if err != nil {
		return err
	}
	issuerID := models.IssuerID(issuer)
	tc.Keys.Set(issuerID, key)
	_, err = tc.Publisher.KeyRegistered(ctx, issuerID, key.Public())
	return err
}

func (tc *TestContext) todayIs(ctx context.Context, date string) error {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return err
	}
	tc.Now = day.Add(9 * time.Hour)
	return nil
}

func (tc *TestContext) theRecord(ctx context.Context, doc *godog.DocString) error {
	record, err := canonical.ParseJSON([]byte(doc.Content))
	if err != nil {
		return err
	}
	tc.Record = record
	return nil
}

func (tc *TestContext) issuesRecord(ctx context.Context, issuer, mode string) error {
	svc, err := tc.issuer()
	if err != nil {
		return err
	}
	tc.Credential, tc.LastErr = svc.Issue(ctx, issuance.IssueRequest{
		Issuer: models.IssuerID(issuer),
		Record: tc.claimedRecord(),
		Mode:   mode,
	})
	return nil
}

func (tc *TestContext) revokesCredential(ctx context.Context, reason string) error {
	if tc.Credential == nil {
		return fmt.Errorf("no credential has been issued")
	}
	_, err := tc.Publisher.CredentialRevoked(ctx, registry.Revocation{
		Fingerprint: tc.Credential.Fingerprint,
		Issuer:      tc.Credential.Issuer,
		Reason:      reason,
	})
	return err
}

func (tc *TestContext) presentsCredential(ctx context.Context) error {
	return tc.present(nil)
}

func (tc *TestContext) presentsWithRecord(ctx context.Context) error {
	return tc.present(tc.claimedRecord())
}

func (tc *TestContext) presentsTampered(ctx context.Context, field, value string) error {
	claimed := tc.claimedRecord()
	claimed[field] = value
	return tc.present(claimed)
}

func (tc *TestContext) issuanceShouldFail(ctx context.Context) error {
	if tc.LastErr == nil {
		return fmt.Errorf("expected issuance to fail")
	}
	return nil
}

func (tc *TestContext) verdictShouldBeValid(ctx context.Context) error {
	if !tc.Verdict.Valid {
		return fmt.Errorf("expected a valid verdict, got %s: %s", tc.Verdict.Reason, tc.Verdict.Detail)
	}
	return nil
}

func (tc *TestContext) verdictShouldBeInvalid(ctx context.Context, reason string) error {
	if tc.Verdict.Valid {
		return fmt.Errorf("expected an invalid verdict with reason %s", reason)
	}
	if tc.Verdict.Reason.String() != reason {
		return fmt.Errorf("expected reason %s, got %s: %s", reason, tc.Verdict.Reason, tc.Verdict.Detail)
	}
	return nil
}

func (tc *TestContext) verdictShouldBeRetryable(ctx context.Context) error {
	if !tc.Verdict.Reason.Retryable() {
		return fmt.Errorf("expected reason %s to be retryable", tc.Verdict.Reason)
	}
	return nil
}

func (tc *TestContext) verdictKeyShouldBe(ctx context.Context, keyID string) error {
	if tc.Verdict.KeyID.String() != keyID {
		return fmt.Errorf("expected key %s, got %s", keyID, tc.Verdict.KeyID)
	}
	return nil
}

func (tc *TestContext) fingerprintShouldStartWith(ctx context.Context, prefix string) error {
	if tc.Credential == nil {
		return fmt.Errorf("no credential has been issued")
	}
	if tagged := tc.Credential.Fingerprint.Tagged(); !strings.HasPrefix(tagged, prefix) {
		return fmt.Errorf("expected fingerprint to start with %s, got %s", prefix, tagged)
	}
	return nil
}

func (tc *TestContext) eventsPublished(ctx context.Context, count int, eventType, topic string) error {
	if got := tc.Loopback.count(topic, eventType); got != count {
		return fmt.Errorf("expected %d %s events on %s, got %d", count, eventType, topic, got)
	}
	return nil
}
