package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-herd/v1/herd"
	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

const version = "0.1.0"

var (
	store  *kv.Redis
	bus    *notify.RedisBus
	client *herd.Client

	rootCmd = &cobra.Command{
		Use:   "herdctl",
		Short: "coordination client for a shared key-value store",
		Long: fmt.Sprintf(`herdctl (v%s)

Inspect and drive a herd deployment: read and write namespaced values,
acquire and release locks, memoize expensive commands.`, version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of herdctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("herdctl v%s\n", version)
		},
	}
)

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().String("addr", "localhost:6379", "Redis address")
	rootCmd.PersistentFlags().String("password", "", "Redis password")
	rootCmd.PersistentFlags().Int("db", 0, "Redis database")
	rootCmd.PersistentFlags().String("namespace", "", "Prefix applied to every key")
	rootCmd.PersistentFlags().Duration("op-timeout", 5*time.Second, "Per-operation store timeout")

	rootCmd.AddCommand(kvCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(memoCmd)
	rootCmd.AddCommand(versionCmd)
}

// initEnv loads .env files and maps HERD_* variables onto the flags.
func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("herd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setup builds the shared store, bus and client from the bound flags. It
// runs as the PersistentPreRunE of every command group that talks to the
// store.
func setup(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     viper.GetString("addr"),
		Password: viper.GetString("password"),
		DB:       viper.GetInt("db"),
	})

	store = kv.NewRedis(rdb, kv.WithTimeout(viper.GetDuration("op-timeout")))
	bus = notify.NewRedisBus(rdb)

	var err error
	client, err = herd.New(store,
		herd.WithBus(bus),
		herd.WithNamespace(viper.GetString("namespace")),
	)
	return err
}

// fullKey applies the namespace prefix the way the client does, for the
// commands that address the store directly.
func fullKey(key string) string {
	if ns := viper.GetString("namespace"); ns != "" {
		return ns + "/" + key
	}
	return key
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
