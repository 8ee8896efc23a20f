/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"reflect"
	"sort"
	"sync"
)

var defaultRegistry = NewModelRegistry()

// SQLModel is an entity known to the registry. Instance returns a struct
// pointer compatible with Bun; Priority orders table creation, lower first.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// ModelRegistry stores entity models and exposes them in a deterministic order.
type ModelRegistry interface {
	Register(model SQLModel)
	Models() []SQLModel
	Instances() []interface{}
}

type modelRegistry struct {
	models []SQLModel
	seen   map[reflect.Type]int
	mutex  sync.RWMutex
}

func NewModelRegistry() ModelRegistry {
	return &modelRegistry{
		models: make([]SQLModel, 0),
		seen:   make(map[reflect.Type]int),
	}
}

// Register adds model. Registering the same Go type again replaces the
// previous entry.
func (r *modelRegistry) Register(model SQLModel) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	t := reflect.TypeOf(model.Instance())
	if i, ok := r.seen[t]; ok {
		r.models[i] = model
		return
	}
	r.seen[t] = len(r.models)
	r.models = append(r.models, model)
}

func (r *modelRegistry) Models() []SQLModel {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]SQLModel, len(r.models))
	copy(result, r.models)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority() < result[j].Priority()
	})
	return result
}

func (r *modelRegistry) Instances() []interface{} {
	models := r.Models()
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[i] = m.Instance()
	}
	return out
}

type ModelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct pointer and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{instance: instance, priority: priority}
}

func (a *ModelAdapter) Instance() interface{} { return a.instance }

func (a *ModelAdapter) Priority() int { return a.priority }

// RegisterModel adds an entity to the default registry.
func RegisterModel(instance interface{}, priority int) {
	defaultRegistry.Register(NewModelAdapter(instance, priority))
}

// RegisteredModels returns the default registry's models by ascending priority.
func RegisteredModels() []SQLModel {
	return defaultRegistry.Models()
}

// RegisteredModelInstances returns the default registry's struct pointers.
func RegisteredModelInstances() []interface{} {
	return defaultRegistry.Instances()
}
