package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-herd/v1/lock"
)

var (
	lockCmd = &cobra.Command{
		Use:               "lock",
		Short:             "Acquire and release distributed locks",
		PersistentPreRunE: setup,
	}

	lockLease   time.Duration
	lockMaxWait time.Duration

	lockAcquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock and print its token",
		Long: "Acquire a lock and print its token. The lease expires on its own " +
			"unless renewed; pass the token to release or renew from another process.",
		Args: cobra.ExactArgs(1),
		RunE: runLockAcquire,
	}

	lockReleaseCmd = &cobra.Command{
		Use:   "release [key] [token]",
		Short: "Release a previously acquired lock",
		Args:  cobra.ExactArgs(2),
		RunE:  runLockRelease,
	}

	lockRenewCmd = &cobra.Command{
		Use:   "renew [key] [token]",
		Short: "Extend the lease of a held lock",
		Args:  cobra.ExactArgs(2),
		RunE:  runLockRenew,
	}
)

func init() {
	lockAcquireCmd.Flags().DurationVar(&lockLease, "lease", lock.DefaultLeaseTTL, "Lease lifetime of the lock")
	lockAcquireCmd.Flags().DurationVar(&lockMaxWait, "max-wait", lock.DefaultMaxWait, "How long to wait for a contended lock")
	lockRenewCmd.Flags().DurationVar(&lockLease, "lease", lock.DefaultLeaseTTL, "New lease lifetime")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockRenewCmd)
}

func runLockAcquire(cmd *cobra.Command, args []string) error {
	lk := client.NewLock(args[0],
		lock.WithLeaseTTL(lockLease),
		lock.WithMaxWait(lockMaxWait),
	)
	if err := lk.Acquire(cmd.Context()); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	fmt.Printf("acquired=true token=%s\n", lk.Token())
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	key, token := fullKey(args[0]), args[1]
	released, err := store.DeleteIfEqual(cmd.Context(), key, []byte(token))
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if released {
		_ = bus.Publish(cmd.Context(), lock.UnlockChannel(key))
	}
	fmt.Printf("released=%v\n", released)
	return nil
}

func runLockRenew(cmd *cobra.Command, args []string) error {
	key, token := fullKey(args[0]), args[1]
	renewed, err := store.ExpireIfEqual(cmd.Context(), key, []byte(token), lockLease)
	if err != nil {
		return fmt.Errorf("failed to renew lock: %w", err)
	}
	fmt.Printf("renewed=%v\n", renewed)
	return nil
}
