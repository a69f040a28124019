package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/dcastillo/maquila-ledger/internal/config"
	"github.com/dcastillo/maquila-ledger/internal/events/kafka"
	interfaces "github.com/dcastillo/maquila-ledger/internal/interfaces"
	"github.com/dcastillo/maquila-ledger/internal/ledger"
	"github.com/dcastillo/maquila-ledger/internal/models"
	"github.com/dcastillo/maquila-ledger/internal/storage/postgres"
)

type ledgerResponse struct {
	MaquilaID string              `json:"maquila_id"`
	Rows      []models.ClosureRow `json:"rows"`
	Totals    ledger.Totals       `json:"totals"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("opening postgres: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("connecting to postgres: %v", err)
	}

	publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()
	feed := kafka.NewFeed(cfg.KafkaBrokers, cfg.KafkaTopic, log)

	var store interfaces.Store = postgres.NewPostgresStore(db, publisher, log)
	manager := ledger.NewManager(store, feed, ledger.Options{QuietWindow: cfg.QuietWindow, Log: log})
	defer manager.Close()

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Current rows and totals for one maquila's closure ledger.
	http.HandleFunc("/closures", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		maquilaID := r.URL.Query().Get("maquila_id")
		if maquilaID == "" {
			http.Error(w, "maquila_id is a mandatory field", http.StatusBadRequest)
			return
		}

		sess, err := manager.Session(r.Context(), maquilaID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ledgerResponse{
			MaquilaID: maquilaID,
			Rows:      sess.Rows(),
			Totals:    sess.Totals(),
		})
	})

	// Add or delete one row.
	http.HandleFunc("/closures/rows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				MaquilaID string `json:"maquila_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaquilaID == "" {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			sess, err := manager.Session(r.Context(), req.MaquilaID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			row, err := sess.AddRow(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(row)

		case http.MethodDelete:
			maquilaID := r.URL.Query().Get("maquila_id")
			rowID := r.URL.Query().Get("row_id")
			if maquilaID == "" || rowID == "" {
				http.Error(w, "maquila_id and row_id are mandatory fields", http.StatusBadRequest)
				return
			}

			sess, err := manager.Session(r.Context(), maquilaID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			switch err := sess.DeleteRow(r.Context(), rowID); {
			case errors.Is(err, ledger.ErrMinimumRows):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, interfaces.ErrRowNotFound):
				http.Error(w, err.Error(), http.StatusNotFound)
			case err != nil:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			default:
				w.WriteHeader(http.StatusNoContent)
			}

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// One keystroke-level field edit. Always accepted; persistence is
	// debounced in the background.
	http.HandleFunc("/closures/edit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			MaquilaID string `json:"maquila_id"`
			RowID     string `json:"row_id"`
			Field     string `json:"field"`
			Value     string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaquilaID == "" || req.RowID == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		sess, err := manager.Session(r.Context(), req.MaquilaID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sess.EditField(req.RowID, models.Field(req.Field), req.Value)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ledgerResponse{
			MaquilaID: req.MaquilaID,
			Rows:      sess.Rows(),
			Totals:    sess.Totals(),
		})
	})

	// Viewer closed: drop the session and its feed subscription.
	http.HandleFunc("/closures/release", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			MaquilaID string `json:"maquila_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaquilaID == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := manager.Release(req.MaquilaID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	log.Infof("starting server on :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, nil))
}
