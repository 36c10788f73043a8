// Copyright 2024 go-dataspace
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package odrl

import "github.com/go-playground/validator/v10"

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterValidators(validate); err != nil {
		panic(err)
	}
}

// Validate runs the struct-tag validation registered by RegisterValidators over v: required
// fields, and the odrl_action/odrl_leftoperand/odrl_operator enums on any Permission, Duty, or
// Constraint it contains. Callers building a policy into a wire request use this to catch a
// malformed offer before it is sent, rather than after the counterparty rejects it.
func Validate(v any) error {
	return validate.Struct(v)
}
