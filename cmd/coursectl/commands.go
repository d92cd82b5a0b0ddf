package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
	"github.com/noah-isme/course-review-api/internal/repository/migrations"
	"github.com/noah-isme/course-review-api/internal/service"
)

func migrateCommand(env *runtime) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending schema migrations",
		Action: func(c *cli.Context) error {
			db, err := env.database()
			if err != nil {
				return err
			}
			applied, err := migrations.NewMigrator(db, env.logger).Up(c.Context)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(c.App.Writer, "schema already up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(c.App.Writer, "applied %s\n", name)
			}
			return nil
		},
	}
}

func importCommand(env *runtime) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "import handbook course exports",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "a single JSON export"},
			&cli.StringFlag{Name: "folder", Usage: "a directory of JSON exports"},
			&cli.BoolFlag{Name: "postgrad", Usage: "mark imported courses as postgraduate"},
		},
		Action: func(c *cli.Context) error {
			file, folder := c.String("file"), c.String("folder")
			if (file == "") == (folder == "") {
				return errors.New("specify exactly one of --file or --folder")
			}
			db, err := env.database()
			if err != nil {
				return err
			}
			level := models.LevelUndergraduate
			if c.Bool("postgrad") {
				level = models.LevelPostgraduate
			}
			importer := service.NewImportService(repository.NewCourseRepository(db), env.cacheService(), validator.New(), env.logger, env.cfg.Courses.HandbookURL)

			var result *models.ImportResult
			if file != "" {
				result, err = importer.ImportFile(c.Context, file, level)
			} else {
				result, err = importer.ImportDir(c.Context, folder, level)
			}
			if err != nil {
				return err
			}
			writeImportResult(c.App.Writer, result)
			return nil
		},
	}
}

func deleteCommand(env *runtime) *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "delete courses by faculty and level, or every course",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "faculty", Usage: "faculty name, matched case-insensitively"},
			&cli.StringFlag{Name: "level", Usage: "UG or PG"},
			&cli.BoolFlag{Name: "all", Usage: "delete every course and review"},
		},
		Action: func(c *cli.Context) error {
			faculty := strings.TrimSpace(c.String("faculty"))
			level := models.CourseLevel(strings.ToUpper(strings.TrimSpace(c.String("level"))))
			if c.Bool("all") == (faculty != "" || level != "") {
				return errors.New("specify --all or a --faculty/--level filter")
			}
			db, err := env.database()
			if err != nil {
				return err
			}
			importer := service.NewImportService(repository.NewCourseRepository(db), env.cacheService(), nil, env.logger, env.cfg.Courses.HandbookURL)

			var deleted int64
			if c.Bool("all") {
				deleted, err = importer.DeleteAllCourses(c.Context)
			} else {
				deleted, err = importer.DeleteCourses(c.Context, faculty, level)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "deleted %d courses\n", deleted)
			return nil
		},
	}
}

func sessionsCommand(env *runtime) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "list distinct session labels",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "list", Usage: "list or json"},
			&cli.BoolFlag{Name: "stats", Usage: "show how many courses use each label"},
		},
		Action: func(c *cli.Context) error {
			db, err := env.database()
			if err != nil {
				return err
			}
			stats, err := repository.NewCourseRepository(db).SessionStats(c.Context)
			if err != nil {
				return err
			}
			service.SortSessions(stats)
			return writeSessions(c.App.Writer, stats, c.String("format"), c.Bool("stats"))
		},
	}
}

func recomputeCommand(env *runtime) *cli.Command {
	return &cli.Command{
		Name:  "recompute",
		Usage: "recompute stored rating aggregates",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "course", Usage: "a single course code"},
			&cli.BoolFlag{Name: "all", Usage: "every course"},
			&cli.BoolFlag{Name: "verify", Usage: "report drift without writing"},
		},
		Action: func(c *cli.Context) error {
			code := strings.TrimSpace(c.String("course"))
			aggregator, err := env.aggregator()
			if err != nil {
				return err
			}
			switch {
			case c.Bool("verify"):
				report, err := aggregator.Verify(c.Context)
				if err != nil {
					return err
				}
				writeReport(c.App.Writer, report)
				if len(report.Drifted) > 0 {
					return cli.Exit(fmt.Sprintf("%d courses drifted", len(report.Drifted)), 1)
				}
				return nil
			case code != "" && !c.Bool("all"):
				agg, err := aggregator.Recompute(c.Context, code)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s: overall %.1f enjoyment %.1f usefulness %.1f manageability %.1f (%d reviews)\n",
					strings.ToUpper(code), agg.OverallRating, agg.Enjoyment, agg.Usefulness, agg.Manageability, agg.ReviewCount)
				return nil
			case code == "" && c.Bool("all"):
				report, err := aggregator.RecomputeAll(c.Context)
				if err != nil {
					return err
				}
				writeReport(c.App.Writer, report)
				if len(report.Failed) > 0 {
					return cli.Exit(fmt.Sprintf("%d courses failed", len(report.Failed)), 1)
				}
				return nil
			default:
				return errors.New("specify exactly one of --course, --all or --verify")
			}
		},
	}
}

func tokenCommand(env *runtime) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint a development access token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "user id"},
			&cli.StringFlag{Name: "username", Usage: "display name"},
			&cli.BoolFlag{Name: "admin", Usage: "grant the ADMIN role"},
		},
		Action: func(c *cli.Context) error {
			role := models.RoleStudent
			if c.Bool("admin") {
				role = models.RoleAdmin
			}
			tokens := service.NewTokenService(service.TokenConfig{
				Secret: env.cfg.JWT.Secret,
				Issuer: env.cfg.JWT.Issuer,
				Expiry: env.cfg.JWT.Expiration,
			})
			token, expires, err := tokens.Issue(c.String("user"), c.String("username"), role)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			fmt.Fprintf(c.App.ErrWriter, "expires %s\n", expires.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}

func writeImportResult(w io.Writer, result *models.ImportResult) {
	fmt.Fprintf(w, "files: %d  created: %d  updated: %d  skipped: %d\n", result.Files, result.Created, result.Updated, result.Skipped)
	for _, msg := range result.Errors {
		fmt.Fprintf(w, "  ! %s\n", msg)
	}
}

func writeSessions(w io.Writer, stats []models.SessionStat, format string, showStats bool) error {
	switch format {
	case "json":
		labels := make([]string, len(stats))
		for i, s := range stats {
			labels[i] = s.Label
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(labels); err != nil {
			return err
		}
	case "list":
		fmt.Fprintf(w, "unique sessions: %d\n", len(stats))
		for i, s := range stats {
			fmt.Fprintf(w, "%3d. %s (used in %d courses)\n", i+1, s.Label, s.CourseCount)
		}
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
	if showStats {
		ranked := append([]models.SessionStat(nil), stats...)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].CourseCount > ranked[j].CourseCount })
		fmt.Fprintln(w, "usage:")
		for _, s := range ranked {
			fmt.Fprintf(w, "  %s: %d courses\n", s.Label, s.CourseCount)
		}
	}
	return nil
}

func writeReport(w io.Writer, report *models.RecomputeReport) {
	fmt.Fprintf(w, "courses: %d  succeeded: %d  took: %s\n", report.Courses, report.Succeeded, report.Duration)
	for _, code := range report.Failed {
		fmt.Fprintf(w, "  failed: %s\n", code)
	}
	for _, code := range report.Drifted {
		fmt.Fprintf(w, "  drifted: %s\n", code)
	}
}
