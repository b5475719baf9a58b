// Command repochain-node starts a repochain node: it opens (or bootstraps)
// the node's managed git repository, brings up the gossip transport, and
// runs a periodic fetch-and-integrate loop against its configured peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tolelom/repochain/config"
	"github.com/tolelom/repochain/distributed"
	"github.com/tolelom/repochain/network"
	"github.com/tolelom/repochain/peerset"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/semantic"
	"github.com/tolelom/repochain/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	flag.Parse()

	password := os.Getenv("REPOCHAIN_PASSWORD")
	if password == "" {
		log.Println("WARNING: REPOCHAIN_PASSWORD not set — keystore will use an empty password")
	}

	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (validator identity): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	priv, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	w := wallet.New(priv)

	repo, fresh, err := openOrInitRepo(cfg.DataDir)
	if err != nil {
		log.Fatalf("open repository: %v", err)
	}
	defer repo.Close()

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for gossip")
	}

	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	netNode := network.NewNode(cfg.NodeID, p2pAddr, tlsCfg)
	if err := netNode.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer netNode.Stop()
	log.Printf("Gossip listening on %s", p2pAddr)

	peers := peerset.New(cfg.NodeID, cfg.RemoteURL, netNode)
	seeds := make([]peerset.Peer, 0, len(cfg.SeedPeers))
	for _, sp := range cfg.SeedPeers {
		seeds = append(seeds, peerset.Peer{ID: sp.ID, RemoteURL: sp.RemoteURL})
	}
	peers.Update(seeds)

	node := distributed.New(repo, peers, w, nil)

	if fresh {
		log.Println("Fresh repository: committing genesis and bootstrapping reserved branches")
		if err := bootstrapGenesis(repo, cfg); err != nil {
			log.Fatalf("bootstrap genesis: %v", err)
		}
		if err := node.Genesis(context.Background()); err != nil {
			log.Fatalf("genesis: %v", err)
		}
		log.Println("Genesis committed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go peers.Run(ctx)
	go fetchLoop(ctx, node, 5*time.Second)

	log.Printf("Node %s running (validator: %s)", cfg.NodeID, w.PubKey())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
	cancel()
	log.Println("Shutdown complete.")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// openOrInitRepo opens the repository at dir, initializing a fresh one
// (with an empty "initial" commit) if none exists yet. The returned bool
// is true when the repository was just created and still needs its
// genesis commit.
func openOrInitRepo(dir string) (*rawrepo.Repository, bool, error) {
	repo, err := rawrepo.Open(dir)
	if err == nil {
		return repo, false, nil
	}
	if _, ok := err.(*rawrepo.NotFoundError); !ok {
		return nil, false, err
	}
	repo, err = rawrepo.Init(dir)
	if err != nil {
		return nil, false, err
	}
	if _, err := repo.CreateCommit("initial", nil); err != nil {
		return nil, false, fmt.Errorf("create initial commit: %w", err)
	}
	return repo, true, nil
}

// bootstrapGenesis commits the genesis event atop the repository's
// initial commit, on whatever branch HEAD currently points to. Node.Genesis
// renames that tip into the reserved branches.
func bootstrapGenesis(repo *rawrepo.Repository, cfg *config.Config) error {
	ev := config.BuildGenesisEvent(cfg)
	sc, err := semantic.Encode(ev)
	if err != nil {
		return err
	}
	_, err = repo.CreateSemanticCommit(sc)
	return err
}

// fetchLoop runs FetchAndIntegrate on a fixed interval until ctx is
// canceled. A fatal fork halts the loop — operator intervention is
// required to pick a side and recover manually.
func fetchLoop(ctx context.Context, node *distributed.Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := node.FetchAndIntegrate(ctx)
			if err != nil {
				if _, ok := err.(*distributed.ErrFatalFork); ok {
					log.Printf("FATAL FORK detected, halting fetch loop: %v", err)
					return
				}
				log.Printf("fetch-and-integrate: %v", err)
				continue
			}
			for _, bo := range report.Branches {
				log.Printf("fetch-and-integrate: %s -> %s", bo.Branch, bo.Outcome)
			}
		}
	}
}
