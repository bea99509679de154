package main

import (
	"flag"
	"github.com/guardian/sandboxprep/batchlauncher"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/sharedstore"
	"github.com/guardian/sandboxprep/storagefabric"
	"github.com/guardian/sandboxprep/uploader"
	"log"
	"strings"
	"time"
)

func main() {
	configPath := flag.String("config", "config/serverconfig.yaml", "server configuration file")
	finished := flag.String("finished", "", "comma-separated ids of master jobs that have finished")
	keep := flag.Int("keep", 1, "number of replicas of each uploaded file to keep for finished jobs")
	minAgeHours := flag.Int64("minage", 1, "leave unreferenced shared directories alone until they are this many hours old")
	dryRun := flag.Bool("dryrun", true, "don't actually delete anything")
	kubeConfigPath := flag.String("kubeconfig", "", ".kubeconfig file for running out of cluster. If not specified then in-cluster initialisation will be tried")
	namespace := flag.String("namespace", "", "kubernetes namespace of launched batch jobs")
	noK8s := flag.Bool("nok8s", false, "don't try to tidy up kubernetes jobs")
	flag.Parse()

	log.Printf("Reading config from %s", *configPath)
	config, configReadErr := helpers.ReadConfig(*configPath)
	log.Print("Done.")
	if configReadErr != nil {
		log.Fatal("No configuration, can't continue")
	}
	if !config.Shared.RedisCounters {
		log.Fatal("Share counts are not kept in redis, so there is no way to tell what can be reaped")
	}

	log.Printf("Dryrun is %t", *dryRun)
	redisClient, redisErr := helpers.SetupRedis(config)
	if redisErr != nil {
		log.Fatal("Could not connect to redis")
	}

	counter := models.NewRedisShareCounter(redisClient)
	catalog := storagefabric.NewRedisCatalog(redisClient)
	r := &Reaper{
		Store:       sharedstore.NewStore(config.Shared.Root, config.Shared.User, counter),
		Assignments: counter,
		Catalog:     catalog,
		LFNBase:     config.Storage.LFNBase,
		Keep:        *keep,
		MinAge:      time.Duration(*minAgeHours) * time.Hour,
		DryRun:      *dryRun,
	}
	if config.Storage.FabricRoot != "" {
		fabric := storagefabric.NewDirectoryFabric(config.Storage.FabricRoot, catalog)
		r.Uploader = uploader.NewUploader(catalog, fabric, config.Storage.Redundancy, 0)
	}
	if !*noK8s {
		k8Client, cliErr := batchlauncher.GetK8Client(*kubeConfigPath)
		if cliErr == nil {
			jobClient, jobCliErr := batchlauncher.GetJobClient(k8Client, *namespace)
			if jobCliErr != nil {
				log.Printf("WARNING: Could not get job client, not tidying kubernetes jobs: %s", jobCliErr)
			} else {
				r.JobClient = jobClient
			}
		}
	}

	startTime := time.Now()
	log.Printf("Reaping starting at %s", startTime)

	if *finished != "" {
		for _, id := range strings.Split(*finished, ",") {
			finishErr := r.FinishJob(strings.TrimSpace(id))
			if finishErr != nil {
				log.Fatalf("ERROR: Could not tidy up job %s: %s", id, finishErr)
			}
		}
	}

	removed, orphanErr := r.ReapOrphans()
	if orphanErr != nil {
		log.Fatal(orphanErr)
	}
	log.Printf("Removed %d orphaned shared directories", removed)

	endTime := time.Now()
	log.Printf("Reaping run completed at %s and took %d seconds", endTime, endTime.Unix()-startTime.Unix())
}
