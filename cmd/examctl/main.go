package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-examclient/internal/config"
	"github.com/stemsi/exstem-examclient/internal/database"
	"github.com/stemsi/exstem-examclient/internal/logger"
	"github.com/stemsi/exstem-examclient/internal/repository"
	"github.com/stemsi/exstem-examclient/internal/service"
	"golang.org/x/term"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: examctl <command> [exam_id]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  status <exam_id>       show a student's stored state for an exam")
	fmt.Fprintln(os.Stderr, "  abandon <exam_id>      drop a student's in-progress state for an exam")
	fmt.Fprintln(os.Stderr, "  reset-security         clear a student's security flags")
	fmt.Fprintln(os.Stderr, "  violations <exam_id>   archived violation counts per student")
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	// stdout carries the command output.
	log := logger.Component(logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat), "examctl")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	var examID string
	if command != "reset-security" {
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		if _, err := uuid.Parse(os.Args[2]); err != nil {
			fmt.Fprintln(os.Stderr, "Error: exam_id must be a UUID")
			os.Exit(2)
		}
		examID = os.Args[2]
	}

	ctx := context.Background()

	// Archive queries need only PostgreSQL.
	if command == "violations" {
		if err := printViolations(ctx, cfg, examID); err != nil {
			log.Fatal().Err(err).Msg("Violation query failed")
		}
		return
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Session-scoped state lives inside the agent process unless the agent
	// runs with SESSION_BACKEND=redis.
	var sessionBackend repository.Backend = repository.NewMemoryBackend()
	if cfg.SessionBackend == config.SessionBackendRedis {
		sessionBackend = repository.NewRedisBackend(rdb, cfg.SessionTTL)
	} else {
		log.Warn().Msg("SESSION_BACKEND is memory; only durable state is visible")
	}
	stores := repository.NewStateStores(sessionBackend, repository.NewRedisBackend(rdb, 0), log)

	// ─── Identify Student ──────────────────────────────────────────────
	studentID, err := readStudent(service.NewAuthService(cfg.JWTSecret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	store := stores.ForStudent(studentID)

	switch command {
	case "status":
		printStatus(ctx, store, examID, studentID)

	case "abandon":
		if !confirm(fmt.Sprintf("Drop progress of student %d in exam %s?", studentID, examID)) {
			fmt.Println("Aborted")
			return
		}
		if err := store.Exam(examID).Purge(ctx); err != nil {
			log.Fatal().Err(err).Msg("Abandon failed")
		}
		fmt.Println("Exam progress removed")

	case "reset-security":
		if !confirm(fmt.Sprintf("Clear security flags of student %d?", studentID)) {
			fmt.Println("Aborted")
			return
		}
		if err := store.Security().Clear(ctx); err != nil {
			log.Fatal().Err(err).Msg("Reset failed")
		}
		fmt.Println("Security flags cleared")

	default:
		usage()
		os.Exit(2)
	}
}

// readStudent prompts for the student's token without echoing it.
func readStudent(auth *service.AuthService) (int, error) {
	fmt.Fprint(os.Stderr, "Student token: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return 0, fmt.Errorf("read token: %w", err)
	}

	claims, err := auth.ValidateStudentToken(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.New("token is not a valid student token")
	}
	return claims.UserID, nil
}

func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func printStatus(ctx context.Context, store *repository.StateStore, examID string, studentID int) {
	exam := store.Exam(examID)
	sec := store.Security()

	fmt.Printf("student:          %d\n", studentID)
	fmt.Printf("exam:             %s\n", examID)
	fmt.Printf("completed:        %t\n", exam.Completed(ctx))
	if id, ok := exam.AttemptID(ctx); ok {
		fmt.Printf("attempt:          %s\n", id)
	} else {
		fmt.Println("attempt:          -")
	}
	fmt.Printf("explicit start:   %t\n", exam.HasExplicitStart(ctx))
	fmt.Printf("answers:          %d\n", len(exam.Answers(ctx)))
	fmt.Printf("flags:            %v\n", exam.Flags(ctx))
	if end, ok := exam.EndTime(ctx); ok {
		fmt.Printf("end time:         %d\n", end)
	}
	if left, ok := exam.TimeLeft(ctx); ok {
		fmt.Printf("time left:        %ds\n", left)
	}
	fmt.Printf("rules accepted:   %t\n", sec.Accepted(ctx))
	fmt.Printf("violations:       %d\n", sec.Violations(ctx))
	fmt.Printf("warning shown:    %t\n", sec.ShowWarning(ctx))
	fmt.Printf("browser focused:  %t\n", sec.BrowserFocused(ctx))
}

func printViolations(ctx context.Context, cfg *config.Config, examID string) error {
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	counts, err := repository.NewViolationRepository(pool).CountByExam(ctx, examID)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Println("No archived violations")
		return nil
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fmt.Println("student_id\tviolations")
	for _, id := range ids {
		fmt.Printf("%d\t%d\n", id, counts[id])
	}
	return nil
}
