package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	addr := flag.String("addr", ":48321", "HTTP listen address")
	wwwDir := flag.String("www", "./www", "Path to the client files")
	dbPath := flag.String("db", "tictactoe.db", "Path to the match archive database (empty to disable)")
	flag.Parse()

	var archive *Archive
	if *dbPath != "" {
		var err error
		archive, err = OpenArchive(*dbPath)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
	}

	hub := NewHub(archive)
	go hub.Run()

	mux := SetupRoutes(hub, *wwwDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		log.Printf("Serving client files from %s", *wwwDir)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
	hub.Stop()
	if archive != nil {
		if err := archive.Close(); err != nil {
			log.Printf("close archive: %v", err)
		}
	}
}
