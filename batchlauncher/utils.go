package batchlauncher

// see https://github.com/kubernetes/client-go/blob/master/examples/in-cluster-client-configuration/main.go

import (
	"errors"
	"fmt"
	"io/ioutil"
	v1batch "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	v1 "k8s.io/client-go/kubernetes/typed/batch/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"log"
	"os"
	"reflect"
	"time"

	_ "k8s.io/client-go/plugin/pkg/client/auth"
)

const NAMESPACE_FILE = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

/**
initialise connection to Kubernetes from a pod within the cluster
*/
func InClusterClient() (*kubernetes.Clientset, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		log.Print("Could not establish cluster connection: ", err)
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		log.Print("Could not establish cluster connection: ", err)
		return nil, err
	}

	return clientset, nil
}

/**
initialise a connection to Kubernetes from outside the cluster. This requires a kubeconfig file (e.g. for kubectl)
to describe how to connect and authorise to the cluster
*/
func OutOfClusterClient(kubeConfigPath string) (*kubernetes.Clientset, error) {
	config, err := clientcmd.BuildConfigFromFlags("", kubeConfigPath)
	if err != nil {
		log.Print("Could not build out-of-cluster config: ", err)
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		log.Print("Could not establish cluster connection: ", err)
		return nil, err
	}

	return clientset, nil
}

/**
in-cluster if no kubeconfig path is given, otherwise out-of-cluster
*/
func GetK8Client(kubeConfigPath string) (*kubernetes.Clientset, error) {
	var k8Client *kubernetes.Clientset
	var cliErr error

	if kubeConfigPath == "" {
		k8Client, cliErr = InClusterClient()
	} else {
		k8Client, cliErr = OutOfClusterClient(kubeConfigPath)
	}
	if cliErr != nil {
		log.Printf("ERROR: Can't establish communication with Kubernetes, batch jobs can't be launched.")
		return nil, cliErr
	}
	return k8Client, nil
}

/**
determine the namespace that we are running in. Out of the cluster there is no way to tell, so the caller
has to say
*/
func GetMyNamespace() (string, error) {
	_, statErr := os.Stat(NAMESPACE_FILE)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", errors.New("not running in a cluster, a namespace must be given")
		}
		log.Print("ERROR asserting kubernetes namespace: ", statErr)
		return "", statErr
	}

	content, readErr := ioutil.ReadFile(NAMESPACE_FILE)
	if readErr != nil {
		log.Print("Could not read in k8s namespace: ", readErr)
		return "", readErr
	}
	return string(content), nil
}

/**
helper function to get a "Jobs" client from the clientset. If namespace is empty we use the one we are running in
*/
func GetJobClient(k8client *kubernetes.Clientset, namespace string) (v1.JobInterface, error) {
	if namespace == "" {
		ns, nsErr := GetMyNamespace()
		if nsErr != nil {
			return nil, nsErr
		}
		namespace = ns
	}
	return k8client.BatchV1().Jobs(namespace), nil
}

/**
Loads up a kubernetes Job manifest to use as the template for launched jobs
*/
func LoadFromTemplate(fileName string) (*v1batch.Job, error) {
	bytes, readErr := ioutil.ReadFile(fileName)
	if readErr != nil {
		return nil, readErr
	}
	//THIS is the right way to read k8s manifests.... https://github.com/kubernetes/client-go/issues/193
	decode := scheme.Codecs.UniversalDeserializer()

	obj, _, err := decode.Decode(bytes, nil, nil)
	if err != nil {
		return nil, err
	}

	switch obj.(type) {
	case *v1batch.Job:
		job := obj.(*v1batch.Job)
		if len(job.Spec.Template.Spec.Containers) == 0 {
			return nil, fmt.Errorf("job template %s has no containers", fileName)
		}
		return job, nil
	default:
		log.Printf("Expected to get a job from template %s but got %s instead", fileName, reflect.TypeOf(obj).String())
		return nil, errors.New("Wrong manifest type")
	}
}

type LaunchStatus int

const (
	LAUNCH_ACTIVE LaunchStatus = iota
	LAUNCH_COMPLETED
	LAUNCH_FAILED
	LAUNCH_UNKNOWN
)

func (s LaunchStatus) String() string {
	switch s {
	case LAUNCH_ACTIVE:
		return "active"
	case LAUNCH_COMPLETED:
		return "completed"
	case LAUNCH_FAILED:
		return "failed"
	default:
		return "unknown"
	}
}

/**
summary of a kubernetes job that was launched for one of our jobs
*/
type LaunchedJob struct {
	Name           string
	JobID          string
	Status         LaunchStatus
	StartTime      string
	CompletionTime string
}

/**
helper function to string-format a time that may be nil
returns the formatted time string if the timeval is valid or an empty string otherwise
*/
func safeTimeString(timeval *metav1.Time) string {
	if timeval == nil {
		return ""
	}
	return timeval.Format(time.RFC3339)
}

func statusOf(jobDesc *v1batch.Job) LaunchStatus {
	cond := jobDesc.Status.Conditions
	if len(cond) > 0 && cond[0].Type == v1batch.JobFailed {
		return LAUNCH_FAILED
	} else if jobDesc.Status.Succeeded > 0 {
		return LAUNCH_COMPLETED
	} else if jobDesc.Status.Failed > 0 {
		return LAUNCH_FAILED
	} else if jobDesc.Status.Active > 0 {
		return LAUNCH_ACTIVE
	} else if jobDesc.Status.StartTime == nil {
		//not scheduled yet
		return LAUNCH_ACTIVE
	}
	return LAUNCH_UNKNOWN
}

/**
look up the kubernetes jobs launched for every real job of the given master
*/
func FindLaunched(masterFQID string, client v1.JobInterface) ([]LaunchedJob, error) {
	listOpts := metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", MASTER_LABEL, masterFQID),
	}

	response, err := client.List(listOpts)
	if err != nil {
		log.Print("ERROR: Could not list k8s jobs: ", err)
		return nil, err
	}

	rtn := make([]LaunchedJob, len(response.Items))
	for i, jobDesc := range response.Items {
		rtn[i] = LaunchedJob{
			Name:           jobDesc.Name,
			JobID:          jobDesc.Labels[JOB_LABEL],
			Status:         statusOf(&response.Items[i]),
			StartTime:      safeTimeString(jobDesc.Status.StartTime),
			CompletionTime: safeTimeString(jobDesc.Status.CompletionTime),
		}
	}
	return rtn, nil
}
