package main

import (
	"context"
	"flag"
	"github.com/davecgh/go-spew/spew"
	"github.com/go-redis/redis/v7"
	"github.com/guardian/sandboxprep/batchlauncher"
	"github.com/guardian/sandboxprep/buildcoord"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/dispatcher"
	"github.com/guardian/sandboxprep/sharedstore"
	"github.com/guardian/sandboxprep/storagefabric"
	"github.com/guardian/sandboxprep/uploader"
	"log"
	"strings"
)

func describe(job *models.Job, cfg *models.StandardJobConfig) {
	log.Printf("INFO: Job %s command: %s", job.FQID(), cfg.Command)
	log.Printf("INFO: Job %s input sandbox: %s", job.FQID(), strings.Join(cfg.InputSandboxNames(), ", "))
	log.Printf("INFO: Job %s output sandbox: %s", job.FQID(), strings.Join(cfg.OutputSandbox, ", "))
}

func launchAll(master *models.Job, configs map[string]*models.StandardJobConfig, templateFile string, kubeConfigPath string, namespace string) {
	k8Client, cliErr := batchlauncher.GetK8Client(kubeConfigPath)
	if cliErr != nil {
		log.Fatal("Can't launch without kubernetes: ", cliErr)
	}
	jobClient, jobCliErr := batchlauncher.GetJobClient(k8Client, namespace)
	if jobCliErr != nil {
		log.Fatal("Could not get job client: ", jobCliErr)
	}
	for _, job := range master.RealJobs() {
		_, launchErr := batchlauncher.LaunchJob(job, configs[job.FQID()], templateFile, jobClient)
		if launchErr != nil {
			log.Fatalf("ERROR: Could not launch job %s: %s", job.FQID(), launchErr)
		}
	}
}

func main() {
	configPath := flag.String("config", "config/serverconfig.yaml", "server configuration file")
	jobPath := flag.String("job", "", "yaml description of the job to submit")
	backendName := flag.String("backend", "", "override the backend given in the job description")
	initFabric := flag.Bool("init-fabric", false, "create and mark writable every configured storage element before submitting")
	launch := flag.Bool("launch", false, "launch the prepared jobs on kubernetes (Batch backend only)")
	kubeConfigPath := flag.String("kubeconfig", "", ".kubeconfig file for running out of cluster. If not specified then in-cluster initialisation will be tried")
	namespace := flag.String("namespace", "", "kubernetes namespace to launch into, defaults to the one we are running in")
	flag.Parse()

	if *jobPath == "" {
		log.Fatal("You must specify a job description with -job")
	}

	log.Printf("Reading config from %s", *configPath)
	config, configReadErr := helpers.ReadConfig(*configPath)
	if configReadErr != nil {
		log.Fatal("No configuration, can't continue")
	}
	if validErr := config.Validate(); validErr != nil {
		log.Fatal("Invalid configuration: ", validErr)
	}
	log.Print("Done.")

	jobFile, jobReadErr := ReadJobFile(*jobPath)
	if jobReadErr != nil {
		log.Fatal("Could not read job description: ", jobReadErr)
	}
	if *backendName != "" {
		jobFile.Backend = *backendName
	}
	backend, backendErr := dispatcher.ParseBackend(jobFile.Backend)
	if backendErr != nil {
		log.Fatal(backendErr)
	}
	master, jobErr := jobFile.ToJob(config.Scratch.LocalPath)
	if jobErr != nil {
		log.Fatal("Could not set up job: ", jobErr)
	}

	var redisClient *redis.Client
	if config.Shared.RedisCounters || backend == dispatcher.Grid {
		var redisErr error
		redisClient, redisErr = helpers.SetupRedis(config)
		if redisErr != nil {
			log.Fatal("Could not connect to redis")
		}
	}

	var counter models.ShareCounter
	var redisCounter *models.RedisShareCounter
	if config.Shared.RedisCounters {
		redisCounter = models.NewRedisShareCounter(redisClient)
		counter = redisCounter
	} else {
		log.Printf("WARNING: Share counts are only held in memory, the reaper won't be able to clean up after this job")
	}
	store := sharedstore.NewStore(config.Shared.Root, config.Shared.User, counter)

	deps := dispatcher.Deps{Config: config, Store: store}
	var fetcher buildcoord.RemoteFetcher
	if redisClient != nil && config.Storage.FabricRoot != "" {
		catalog := storagefabric.NewRedisCatalog(redisClient)
		fabric := storagefabric.NewDirectoryFabric(config.Storage.FabricRoot, catalog)
		if *initFabric {
			for _, se := range config.Storage.StorageElements {
				if regErr := fabric.Register(se); regErr != nil {
					log.Fatalf("Could not register storage element %s: %s", se, regErr)
				}
			}
		}
		settings, settingsErr := config.SettingsFor(string(backend))
		if settingsErr != nil {
			log.Fatal(settingsErr)
		}
		deps.Uploader = uploader.NewUploader(catalog, fabric, config.Storage.Redundancy, settings.TransferTimeout)
		deps.Catalog = catalog
		deps.DBTags = catalog
		fetcher = fabric
	}
	coordinator := buildcoord.NewCoordinator(config, helpers.ExecRunner{}, store, fetcher)
	deps.Preparer = coordinator

	handler, handlerErr := dispatcher.New(backend, deps)
	if handlerErr != nil {
		log.Fatal(handlerErr)
	}

	ctx := context.Background()
	masterConfig, masterErr := handler.MasterPrepare(ctx, master)
	if masterErr != nil {
		log.Printf("ERROR: Could not prepare job %s: %s", master.FQID(), spew.Sdump(masterErr))
		coordinator.Unprepare(master.Application)
		log.Fatal("Submission failed")
	}
	if redisCounter != nil {
		redisCounter.Assign(master.FQID(), master.Application.PreparedRef.Name)
	}

	configs := make(map[string]*models.StandardJobConfig)
	for _, job := range master.RealJobs() {
		cfg, prepErr := handler.Prepare(ctx, job, masterConfig)
		if prepErr != nil {
			log.Fatalf("ERROR: Could not prepare job %s: %s", job.FQID(), prepErr)
		}
		describe(job, cfg)
		configs[job.FQID()] = cfg
	}

	if *launch {
		if backend != dispatcher.Batch {
			log.Fatalf("-launch is only supported for the Batch backend, not %s", backend)
		}
		settings, _ := config.SettingsFor(string(backend))
		templateFile := settings.JobTemplate
		if templateFile == "" {
			templateFile = "config/BatchJobTemplate.yaml"
		}
		launchAll(master, configs, templateFile, *kubeConfigPath, *namespace)
	}
	log.Printf("INFO: Job %s is ready with %d runnable jobs", master.FQID(), len(configs))
}
