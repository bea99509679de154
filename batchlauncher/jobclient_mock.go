package batchlauncher

import (
	"errors"
	v1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"strings"
)

/**
JobInterface mock. List only returns KnownJobs whose labels match every key=value pair of the selector
*/
type JobClientMock struct {
	ErrorResponse  error
	JobsCreated    []*v1.Job
	KnownJobs      []v1.Job
	ListCalledWith *metav1.ListOptions
	DeletedNames   []string
}

func (j *JobClientMock) Create(newJob *v1.Job) (*v1.Job, error) {
	if j.ErrorResponse != nil {
		return nil, j.ErrorResponse
	}
	j.JobsCreated = append(j.JobsCreated, newJob)
	return newJob, nil
}

func (j *JobClientMock) Update(*v1.Job) (*v1.Job, error) {
	if j.ErrorResponse != nil {
		return nil, j.ErrorResponse
	}
	return nil, errors.New("Not implemented by mock")
}

func (j *JobClientMock) UpdateStatus(*v1.Job) (*v1.Job, error) {
	if j.ErrorResponse != nil {
		return nil, j.ErrorResponse
	}
	return nil, errors.New("Not implemented by mock")
}

func (j *JobClientMock) Delete(name string, options *metav1.DeleteOptions) error {
	if j.ErrorResponse != nil {
		return j.ErrorResponse
	}
	j.DeletedNames = append(j.DeletedNames, name)
	return nil
}

func (j *JobClientMock) DeleteCollection(options *metav1.DeleteOptions, listOptions metav1.ListOptions) error {
	if j.ErrorResponse != nil {
		return j.ErrorResponse
	}
	return errors.New("Not implemented by mock")
}

func (j *JobClientMock) Get(name string, options metav1.GetOptions) (*v1.Job, error) {
	if j.ErrorResponse != nil {
		return nil, j.ErrorResponse
	}
	for i, known := range j.KnownJobs {
		if known.Name == name {
			return &j.KnownJobs[i], nil
		}
	}
	return nil, errors.New("Not found")
}

func labelsMatch(selector string, labels map[string]string) bool {
	if selector == "" {
		return true
	}
	for _, term := range strings.Split(selector, ",") {
		parts := strings.SplitN(term, "=", 2)
		if len(parts) != 2 || labels[parts[0]] != parts[1] {
			return false
		}
	}
	return true
}

func (j *JobClientMock) List(opts metav1.ListOptions) (*v1.JobList, error) {
	j.ListCalledWith = &opts
	if j.ErrorResponse != nil {
		return nil, j.ErrorResponse
	}
	matches := make([]v1.Job, 0)
	for _, known := range j.KnownJobs {
		if labelsMatch(opts.LabelSelector, known.Labels) {
			matches = append(matches, known)
		}
	}
	return &v1.JobList{Items: matches}, nil
}

func (j *JobClientMock) Watch(opts metav1.ListOptions) (watch.Interface, error) {
	if j.ErrorResponse != nil {
		return nil, j.ErrorResponse
	}
	return nil, errors.New("Not implemented by mock")
}

func (j *JobClientMock) Patch(name string, pt types.PatchType, data []byte, subresources ...string) (result *v1.Job, err error) {
	if j.ErrorResponse != nil {
		return nil, j.ErrorResponse
	}
	return nil, errors.New("Not implemented by mock")
}
