/*
 * Copyright 2025 Carver Automation Corporation.
 *
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

package virtualdevice

import "errors"

// Fatal setup errors returned by Provision.
var (
	ErrMissingBuildInputs  = errors.New("missing build inputs")
	ErrReportUnreadable    = errors.New("driver report unreadable")
	ErrMissingInstanceName = errors.New("driver report has no instance name")
	ErrInvalidPort         = errors.New("driver report has no valid port")
	ErrDriverStatus        = errors.New("driver reported failure")
	ErrDriverFailed        = errors.New("virtual device driver failed")
	ErrConnectFailed       = errors.New("virtual device did not come online")
)
