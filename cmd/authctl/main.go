package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carelog/authcore/internal/auth"
	"github.com/carelog/authcore/internal/config"
	"github.com/carelog/authcore/internal/database"
	"github.com/carelog/authcore/internal/logger"
	"github.com/carelog/authcore/internal/model"
	"github.com/carelog/authcore/internal/repository"
	"github.com/carelog/authcore/internal/service"
	"github.com/spf13/cobra"
)

// errSuspect makes the process exit non-zero when verification finds tampering.
var errSuspect = errors.New("audit records failed verification")

var (
	limit int

	userEmail     string
	userLogin     string
	userScopeID   int64
	userRoleID    int64
	userProfileID int64
)

var rootCmd = &cobra.Command{
	Use:           "authctl",
	Short:         "Operator tool for authcore",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit record signatures",
}

var verifyEntityCmd = &cobra.Command{
	Use:   "entity [type] [id]",
	Short: "Verify the audit history of one entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runVerifyEntity,
}

var verifyActorCmd = &cobra.Command{
	Use:   "actor [id]",
	Short: "Verify the audit records written by one actor",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerifyActor,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Read a password from stdin and print its argon2id hash",
	Args:  cobra.NoArgs,
	RunE:  runHashPassword,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user; the password is read from stdin",
	Args:  cobra.NoArgs,
	RunE:  runUserCreate,
}

func init() {
	verifyCmd.PersistentFlags().IntVar(&limit, "limit", 0, "number of newest records to check (0 = configured default)")
	verifyCmd.AddCommand(verifyEntityCmd, verifyActorCmd)

	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCreateCmd.Flags().StringVar(&userLogin, "login", "", "login name")
	userCreateCmd.Flags().Int64Var(&userScopeID, "scope", 0, "scope (establishment) id")
	userCreateCmd.Flags().Int64Var(&userRoleID, "role", 0, "role id")
	userCreateCmd.Flags().Int64Var(&userProfileID, "profile", 0, "profile id")
	for _, name := range []string{"email", "login", "role", "profile"} {
		_ = userCreateCmd.MarkFlagRequired(name)
	}
	userCmd.AddCommand(userCreateCmd)

	rootCmd.AddCommand(verifyCmd, hashPasswordCmd, userCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newAuditService() (*service.AuditService, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	signer, err := auth.NewAuditSigner(cfg.Audit.Secret)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log := logger.New(cfg.Log.Level, "text")
	svc := service.NewAuditService(repository.NewAuditRepository(db), signer, cfg.Audit, nil, log)
	return svc, func() { db.Close() }, nil
}

func runVerifyEntity(cmd *cobra.Command, args []string) error {
	entityID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entity id %q: %w", args[1], err)
	}

	svc, closeDB, err := newAuditService()
	if err != nil {
		return err
	}
	defer closeDB()

	report, err := svc.VerifyHistory(cmd.Context(), args[0], entityID, limit)
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), report)
}

func runVerifyActor(cmd *cobra.Command, args []string) error {
	actorID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid actor id %q: %w", args[0], err)
	}

	svc, closeDB, err := newAuditService()
	if err != nil {
		return err
	}
	defer closeDB()

	report, err := svc.VerifyActorHistory(cmd.Context(), actorID, limit)
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), report)
}

func printReport(w io.Writer, report *service.VerificationReport) error {
	fmt.Fprintf(w, "Checked: %d\nValid:   %d\nSuspect: %d\n", report.Checked, report.Valid, len(report.Suspect))
	for _, rec := range report.Suspect {
		fmt.Fprintf(w, "  %s  %s  %s %s#%d  actor=%d\n",
			rec.ID, rec.CreatedAt.Format(time.RFC3339), rec.Action, rec.EntityType, rec.EntityID, rec.ActorID)
	}
	if len(report.Suspect) > 0 {
		return errSuspect
	}
	return nil
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}

	hash, err := auth.NewPasswordHasher(cfg.Security.Password).Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}
	hash, err := auth.NewPasswordHasher(cfg.Security.Password).Hash(password)
	if err != nil {
		return err
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	user := &model.User{
		Email:        userEmail,
		Login:        userLogin,
		PasswordHash: hash,
		Status:       model.UserStatusActive,
		ScopeID:      userScopeID,
		Role:         model.Role{ID: userRoleID},
		Profile:      model.Profile{ID: userProfileID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := repository.NewUserRepository(db).Create(ctx, user); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created user %d (%s)\n", user.ID, user.Login)
	return nil
}

// readPassword takes the first line of r, without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
