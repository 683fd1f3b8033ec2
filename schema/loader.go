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

package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a descriptor file.
type File struct {
	Entities []Descriptor `yaml:"entities"`
}

// Decode reads descriptors from YAML.
func Decode(r io.Reader) ([]Descriptor, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse descriptor file: %w", err)
	}
	return file.Entities, nil
}

// LoadFile reads descriptors from a YAML file.
func LoadFile(path string) ([]Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open descriptor file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// LoadInto registers every descriptor of the file into reg and resolves
// their relations.
func LoadInto(reg Registry, path string) error {
	descriptors, err := LoadFile(path)
	if err != nil {
		return err
	}
	return RegisterAll(reg, descriptors...)
}

// RegisterAll registers descriptors into reg and resolves their relations.
func RegisterAll(reg Registry, descriptors ...Descriptor) error {
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return reg.Resolve()
}
