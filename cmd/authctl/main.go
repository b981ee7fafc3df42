package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ulissesGimSolubio/auth-api/internal/app"
	"github.com/ulissesGimSolubio/auth-api/internal/auth"
	"github.com/ulissesGimSolubio/auth-api/internal/config"
	"github.com/ulissesGimSolubio/auth-api/internal/seed"
	"github.com/ulissesGimSolubio/auth-api/pkg/database"
	"github.com/ulissesGimSolubio/auth-api/pkg/utilities"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is resolved lazily so hash-password works without database settings.
type env struct {
	cfg    config.Config
	logger *zap.SugaredLogger
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: lg.Sugar()}, nil
}

func (e *env) repos() (app.Repos, func(), error) {
	db, err := database.ConnectX(e.cfg.Database)
	if err != nil {
		return app.Repos{}, nil, err
	}
	ids, err := utilities.NewIDGenerator(e.cfg.SnowflakeNode)
	if err != nil {
		db.Close()
		return app.Repos{}, nil, err
	}
	return app.NewRepos(db, ids), func() { db.Close() }, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Administrative commands for auth-api",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newSeedCmd(), newHashPasswordCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			repos, closeDB, err := e.repos()
			if err != nil {
				return err
			}
			defer closeDB()
			if err := repos.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var file string
	var migrate bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert default roles and the users listed in a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := seed.Load(file)
			if err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			repos, closeDB, err := e.repos()
			if err != nil {
				return err
			}
			defer closeDB()
			if migrate {
				if err := repos.Migrate(cmd.Context()); err != nil {
					return err
				}
			}
			s := seed.NewSeeder(repos.Users, auth.BcryptHasher{Cost: e.cfg.Auth.BcryptCost}, e.logger)
			res, err := s.Apply(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "roles=%d users_created=%d users_kept=%d\n", res.Roles, res.UsersCreated, res.UsersKept)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML (roles and users); default roles only when empty")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run migrate before seeding")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash; reads the password from stdin when no argument is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.BcryptHasher{Cost: cost}.Hash(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 10, "bcrypt cost")
	return cmd
}

func passwordArg(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}
